//go:build !lbmstrict

package cell

// Strict enables consistency checks on every reclassification and cell access.
const Strict = false
