// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wangtaoking1/admin-bridge/bridge"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
)

const (
	PlayerJoinEvent  = "player.join"
	PlayerLeaveEvent = "player.leave"
)

var extraPlayers = []string{"herobrine", "jeb", "dinnerbone", "grumm", "alex2", "kingbdogz"}

type player struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

type consoleJob struct {
	line      string
	responder *bridge.Responder
}

// gameServer is a single-threaded simulated server. Everything except the
// metrics counters is owned by the goroutine running Run.
type gameServer struct {
	opts    *HostOptions
	bridge  *bridge.Bridge
	console io.Writer
	rand    *rand.Rand

	players  map[string]*player
	jobs     []consoleJob
	lastTick time.Time
	stopping bool

	startedAt time.Time
	ticks     atomic.Uint64
	online    atomic.Int64
	tps       atomic.Uint64 // milli-ticks per second
}

func newGameServer(opts *HostOptions) *gameServer {
	g := &gameServer{
		opts:      opts,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		players:   map[string]*player{},
		startedAt: time.Now(),
	}
	for _, name := range opts.Players {
		g.players[name] = &player{Name: name, JoinedAt: g.startedAt}
	}
	g.online.Store(int64(len(g.players)))

	return g
}

// attach registers the server's commands with b.
func (g *gameServer) attach(b *bridge.Bridge) error {
	g.bridge = b
	g.console = b.ConsoleWriter("info")

	handlers := map[string]bridge.HandlerFunc{
		"server.ping":     g.ping,
		"server.stop":     g.stop,
		"players.list":    g.listPlayers,
		"kick-player":     g.kickPlayer,
		"broadcast":       g.broadcast,
		"console.execute": g.execute,
	}
	for name, h := range handlers {
		if err := b.RegisterFunc(name, h); err != nil {
			return err
		}
	}

	return nil
}

// Run ticks until ctx is done or a server.stop command was handled.
func (g *gameServer) Run(ctx context.Context) {
	interval := time.Second / time.Duration(g.opts.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var churn <-chan time.Time
	if g.opts.PlayerChurn > 0 {
		t := time.NewTicker(g.opts.PlayerChurn)
		defer t.Stop()
		churn = t.C
	}

	log.Infow("Game server running", "tick_rate", g.opts.TickRate, "players", len(g.players))
	for !g.stopping {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.tick(now)
		case <-churn:
			g.churn()
		}
	}
	log.Info("Game server stopped by remote command")
}

func (g *gameServer) tick(now time.Time) {
	if !g.lastTick.IsZero() {
		if d := now.Sub(g.lastTick); d > 0 {
			g.tps.Store(uint64(float64(time.Second) / float64(d) * 1000))
		}
	}
	g.lastTick = now
	g.ticks.Add(1)

	g.bridge.Poll()

	queued := g.jobs
	g.jobs = nil
	for _, job := range queued {
		g.runConsole(job)
	}
}

func (g *gameServer) churn() {
	if len(g.players) > 0 && g.rand.Intn(2) == 0 {
		names := g.playerNames()
		g.leave(names[g.rand.Intn(len(names))], "disconnected")
		return
	}
	for _, name := range extraPlayers {
		if _, ok := g.players[name]; !ok {
			g.join(name)
			return
		}
	}
}

func (g *gameServer) join(name string) {
	p := &player{Name: name, JoinedAt: time.Now()}
	g.players[name] = p
	g.online.Store(int64(len(g.players)))
	_ = g.bridge.Notify(PlayerJoinEvent, p)
	fmt.Fprintf(g.console, "%s joined the game\n", name)
}

func (g *gameServer) leave(name, reason string) {
	delete(g.players, name)
	g.online.Store(int64(len(g.players)))
	_ = g.bridge.Notify(PlayerLeaveEvent, map[string]string{"name": name, "reason": reason})
	fmt.Fprintf(g.console, "%s left the game (%s)\n", name, reason)
}

func (g *gameServer) playerNames() []string {
	names := make([]string, 0, len(g.players))
	for name := range g.players {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (g *gameServer) ping(context.Context, *bridge.Request) (any, error) {
	return map[string]any{"pong": true, "tick": g.ticks.Load()}, nil
}

func (g *gameServer) stop(ctx context.Context, _ *bridge.Request) (any, error) {
	log.From(ctx).Info("Stop requested by the control plane")
	g.stopping = true
	return nil, nil
}

func (g *gameServer) listPlayers(context.Context, *bridge.Request) (any, error) {
	out := make([]*player, 0, len(g.players))
	for _, name := range g.playerNames() {
		out = append(out, g.players[name])
	}

	return out, nil
}

type kickRequest struct {
	Player string `json:"player"`
	Reason string `json:"reason"`
}

func (g *gameServer) kickPlayer(_ context.Context, req *bridge.Request) (any, error) {
	var in kickRequest
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.Player == "" {
		return nil, protocol.NewError(protocol.HandlerFailure, "player is required")
	}
	if _, ok := g.players[in.Player]; !ok {
		return nil, protocol.NewError(protocol.HandlerFailure, "player %q is not online", in.Player)
	}
	if in.Reason == "" {
		in.Reason = "kicked by an operator"
	}
	g.leave(in.Player, in.Reason)

	return nil, nil
}

func (g *gameServer) broadcast(_ context.Context, req *bridge.Request) (any, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	fmt.Fprintf(g.console, "[Server] %s\n", in.Message)

	return map[string]int{"recipients": len(g.players)}, nil
}

// execute queues a console line for the next tick and answers once it ran.
func (g *gameServer) execute(_ context.Context, req *bridge.Request) (any, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, protocol.NewError(protocol.HandlerFailure, "command is required")
	}
	g.jobs = append(g.jobs, consoleJob{line: in.Command, responder: req.Defer()})

	return nil, nil
}

func (g *gameServer) runConsole(job consoleJob) {
	fields := strings.Fields(job.line)
	var (
		output string
		err    error
	)
	switch fields[0] {
	case "list":
		output = fmt.Sprintf("There are %d players online: %s", len(g.players), strings.Join(g.playerNames(), ", "))
	case "tps":
		output = fmt.Sprintf("TPS: %.1f", float64(g.tps.Load())/1000)
	case "say":
		output = "[Server] " + strings.Join(fields[1:], " ")
	default:
		err = protocol.NewError(protocol.HandlerFailure, "unknown console command %q", fields[0])
	}

	if err != nil {
		if rerr := job.responder.Reject(err); rerr != nil {
			log.Debugw("Console command already answered", "id", job.responder.ID(), "error", rerr)
		}
		return
	}
	fmt.Fprintln(g.console, output)
	if rerr := job.responder.Resolve(map[string]string{"output": output}); rerr != nil {
		log.Debugw("Console command already answered", "id", job.responder.ID(), "error", rerr)
	}
}

type serverMetrics struct {
	Players    int64   `json:"players"`
	Ticks      uint64  `json:"ticks"`
	TPS        float64 `json:"tps"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	HeapAlloc  uint64  `json:"heap_alloc"`
}

// metrics is the bridge's metrics collector; it runs off the tick goroutine
// and only reads atomics.
func (g *gameServer) metrics() any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &serverMetrics{
		Players:    g.online.Load(),
		Ticks:      g.ticks.Load(),
		TPS:        float64(g.tps.Load()) / 1000,
		Uptime:     time.Since(g.startedAt).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
	}
}
