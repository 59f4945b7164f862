// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// admin-bridge runs a simulated tick-based game server that is administered
// remotely through the bridge.
package main

import (
	"github.com/wangtaoking1/admin-bridge/app"
	"github.com/wangtaoking1/admin-bridge/websocket"
)

const description = `admin-bridge connects a game server to a remote control plane.

Commands sent by the control plane are executed on the server's tick loop and
answered over the same WebSocket channel; player and console events are
pushed back as they happen.`

func main() {
	opts := NewOptions()
	app.NewApp("admin-bridge", "Remote admin bridge",
		app.WithOptions(opts),
		app.WithDescription(description),
		app.WithVersion(websocket.Version),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithCommands(newProbeCommand()),
	).Run()
}
