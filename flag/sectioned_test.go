// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package flag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedFlagSets_Order(t *testing.T) {
	var nfs NamedFlagSets
	nfs.FlagSet("websocket").String("websocket.endpoint", "", "control plane url")
	nfs.FlagSet("bridge").Int("bridge.batch-size", 64, "commands per poll")
	nfs.FlagSet("websocket")

	assert.Equal(t, []string{"websocket", "bridge"}, nfs.Order)
}

func TestPrintSections(t *testing.T) {
	var nfs NamedFlagSets
	nfs.FlagSet("bridge").Int("bridge.batch-size", 64, "commands per poll")
	nfs.FlagSet("empty")

	var buf bytes.Buffer
	PrintSections(&buf, nfs, 0)

	assert.Contains(t, buf.String(), "Bridge flags:")
	assert.Contains(t, buf.String(), "--bridge.batch-size")
	assert.NotContains(t, buf.String(), "Empty flags:")
}

func TestWordSepNormalizeFunc(t *testing.T) {
	var nfs NamedFlagSets
	fs := nfs.FlagSet("log")
	fs.SetNormalizeFunc(WordSepNormalizeFunc)
	fs.String("log.output-paths", "", "")

	assert.NotNil(t, fs.Lookup("log.output_paths"))
}
