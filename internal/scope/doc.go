// Package scope matches redeeming emails against reviewer scope globs using gobwas/glob.
package scope
