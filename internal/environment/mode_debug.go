//go:build debug

package environment

const buildMode = Debug
