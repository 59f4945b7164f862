// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package flag

import (
	goflag "flag"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/pflag"

	"github.com/wangtaoking1/admin-bridge/log"
)

// WordSepNormalizeFunc changes all flags that contain "_" separators.
func WordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	if strings.Contains(name, "_") {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	}

	return pflag.NormalizedName(name)
}

// InitFlags normalizes, parses, then logs the command line flags.
func InitFlags(flags *pflag.FlagSet) {
	flags.SetNormalizeFunc(WordSepNormalizeFunc)
	flags.AddGoFlagSet(goflag.CommandLine)
}

// PrintFlags logs the flags in the flagset as a table.
func PrintFlags(flags *pflag.FlagSet) {
	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("FLAG", "VALUE")
	flags.VisitAll(func(flag *pflag.Flag) {
		table.AddRow("--"+flag.Name, flag.Value.String())
	})
	log.Debugf("Flags:\n%s", table.String())
}
