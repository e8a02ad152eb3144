// Package cliflag holds small pflag.FlagSet helpers shared by penny's
// subcommands. Ported from the teacher's cmd/internal/akiflag/rename.go.
package cliflag

import (
	"fmt"

	"github.com/spf13/pflag"
)

// RenameFloat64Flag registers newName as the flag's primary name while
// keeping oldName alive (sharing the same variable) and marked deprecated,
// so a config or script written against an earlier flag name keeps working.
func RenameFloat64Flag(fs *pflag.FlagSet, flagVar *float64, oldName, newName string, defaultVal float64, usage string) {
	fs.Float64Var(flagVar, oldName, defaultVal, usage)
	fs.Float64Var(flagVar, newName, defaultVal, usage)
	fs.MarkDeprecated(oldName, fmt.Sprintf("use --%s instead", newName))
}
