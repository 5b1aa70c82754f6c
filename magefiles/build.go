//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

const (
	shaderDir = "assets/shaders"
	binary    = "bin/penumbra"
)

type Build mg.Namespace

// Compiles every GLSL stage in assets/shaders to <name>.<stage>.spv with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders, then builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if err := modDownload(); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("build", "-o", binary, "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return err
	}
	compiled := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".vert", ".frag", ".comp":
		default:
			continue
		}
		src := filepath.Join(shaderDir, e.Name())
		dst := src + ".spv"
		if upToDate(src, dst) {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
			return err
		}
		compiled++
	}
	fmt.Printf("%d shaders compiled\n", compiled)
	return nil
}

// upToDate reports whether dst exists and is newer than src.
func upToDate(src, dst string) bool {
	s, err := os.Stat(src)
	if err != nil {
		return false
	}
	d, err := os.Stat(dst)
	if err != nil {
		return false
	}
	return !d.ModTime().Before(s.ModTime())
}
