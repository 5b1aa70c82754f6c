//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed with penumbra.toml.
func (Run) Testbed() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "penumbra.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
