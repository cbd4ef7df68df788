// Package loader resolves script names to source files.
//
// Scripts live in one directory. A name without an extension gets the
// default one. When the file is missing and fallback is allowed, a bundled
// script of the same name is copied into the directory first, so operators
// can start from the bundled examples and edit them in place.
package loader
