package deletion

import (
	"os/exec"
	"path/filepath"
)

// trashHelpers lists the external trash commands probed for, in
// preference order: gio (GNOME/freedesktop trash spec, most broadly
// installed on Linux desktops), then trash-cli's trash-put.
var trashHelpers = []string{"gio", "trash-put", "trash"}

func findTrashHelper() string {
	for _, name := range trashHelpers {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func runTrashHelper(helperPath, target string) error {
	if filepath.Base(helperPath) == "gio" {
		return exec.Command(helperPath, "trash", target).Run()
	}
	return exec.Command(helperPath, target).Run()
}
