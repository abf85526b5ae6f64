// Package catalog defines the data model shared across the catprev
// compilation pipeline: nodes, fact sets, compiled catalogs, and the
// dual-compile result envelope.
package catalog
