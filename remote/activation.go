package remote

import (
	"path"
	"strings"

	"github.com/alessio/shellescape"
)

// Activation describes a virtual environment to prepare on a node after sync.
type Activation struct {
	// Path of the virtualenv, relative to the session's chdir unless absolute.
	Path string
	// Extras are optional install targets of the synced project, as in pip's ".[extra]".
	Extras []string
}

// Enabled reports whether an activation was requested.
func (a Activation) Enabled() bool {
	return a.Path != ""
}

// EnvDir resolves the virtualenv directory for a session rooted at chdir.
func (a Activation) EnvDir(chdir string) string {
	if path.IsAbs(a.Path) || chdir == "" {
		return a.Path
	}
	return path.Join(chdir, a.Path)
}

// Interpreter is the python executable workers should use. Without an
// activation it is python unchanged.
func (a Activation) Interpreter(chdir, python string) string {
	if !a.Enabled() {
		return python
	}
	return path.Join(a.EnvDir(chdir), "bin", path.Base(python))
}

// installTarget is the pip requirement for the synced project, "." or ".[a,b]".
func (a Activation) installTarget() string {
	if len(a.Extras) == 0 {
		return "."
	}
	return ".[" + strings.Join(a.Extras, ",") + "]"
}

// ActivationScript is the shell program run on the node: create the
// virtualenv when absent, then install the synced project into it in develop mode.
func ActivationScript(chdir, python string, a Activation) string {
	env := a.EnvDir(chdir)
	venvPython := path.Join(env, "bin", "python")
	pip := path.Join(env, "bin", "pip")

	var b strings.Builder
	b.WriteString("set -e\n")
	if chdir != "" {
		b.WriteString("cd " + shellescape.Quote(chdir) + "\n")
	}
	b.WriteString("if [ ! -x " + shellescape.Quote(venvPython) + " ]; then\n")
	b.WriteString("  " + shellescape.Quote(python) + " -m venv " + shellescape.Quote(env) + "\n")
	b.WriteString("fi\n")
	b.WriteString(shellescape.Quote(pip) + " install --quiet -e " + shellescape.Quote(a.installTarget()) + "\n")
	return b.String()
}

// MkdirCommand creates the session's working directory on the node.
func MkdirCommand(chdir string) string {
	return "mkdir -p " + shellescape.Quote(chdir)
}
