// Package ir provides the foundational types shared by every lineage package.
//
// This package contains values, enums and errors only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Node and link categories are closed enums; subtypes live in an explicit Registry
//   - Content hashes are computed over RFC 8785 canonical JSON with domain separation
//   - All JSON tags use snake_case
//   - Domain failures are *Error values with a category Code
package ir
