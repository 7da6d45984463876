// Package npmrunner implements delta.NativeInstaller against the real npm
// CLI, invoked through procrunner exactly as the teacher shells out to git
// and other external tools (§6: "the core never shells out directly").
package npmrunner

import (
	"context"
	"fmt"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/procrunner"
)

// Installer drives npm install/uninstall in Dir.
type Installer struct {
	Runner *procrunner.Runner
	Dir    string
}

// New returns an Installer rooted at dir.
func New(runner *procrunner.Runner, dir string) *Installer {
	return &Installer{Runner: runner, Dir: dir}
}

// Install runs `npm install <name>@<spec> ...` for the given packages.
func (i *Installer) Install(ctx context.Context, pkgs map[string]string) error {
	args := []string{"install", "--no-save"}
	for name, spec := range pkgs {
		if spec == "" {
			args = append(args, name)
			continue
		}
		args = append(args, fmt.Sprintf("%s@%s", name, spec))
	}
	return i.run(ctx, args)
}

// Uninstall runs `npm uninstall <name> ...` for the given package names.
func (i *Installer) Uninstall(ctx context.Context, names []string) error {
	args := append([]string{"uninstall", "--no-save"}, names...)
	return i.run(ctx, args)
}

// InstallAll runs a full `npm install` from the project's current manifest.
func (i *Installer) InstallAll(ctx context.Context) error {
	return i.run(ctx, []string{"install"})
}

func (i *Installer) run(ctx context.Context, args []string) error {
	err := i.Runner.Run(ctx, procrunner.Invocation{
		Path:    "npm",
		Args:    args,
		Dir:     i.Dir,
		Timeout: procrunner.DefaultTimeout * 5,
	})
	if err != nil && depwarm.Kind(err) != depwarm.KindCancelled {
		return depwarm.WrapError(depwarm.KindBackendError, err, "npm "+args[0])
	}
	return err
}
