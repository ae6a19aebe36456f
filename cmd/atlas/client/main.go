package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/prabin-acharya/atlas-map/pkg/bridge"
	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/persist"
	"github.com/prabin-acharya/atlas-map/pkg/session"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
	"github.com/prabin-acharya/atlas-map/pkg/transport/ws"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address to request on")
	sessionVar := flag.String("session", "default", "the map session to join")
	userVar := flag.String("user", "bot-"+uuid.NewString()[:8], "user id recorded on persisted elements")
	codecVar := flag.String("codec", "json", "relay frame codec, json or msgpack")
	flag.Parse()

	codec, err := transport.CodecByName(*codecVar)
	if err != nil {
		return err
	}
	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}
	wsUrl := baseUrl.JoinPath("sessions", *sessionVar, "ws")
	wsUrl.Scheme = "ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := persist.NewHTTPBackend(baseUrl.String(), nil)
	if err != nil {
		return err
	}
	adapter, err := persist.New(persist.Config{Backend: backend, SessionID: *sessionVar, UserID: *userVar})
	if err != nil {
		return err
	}

	ch, err := ws.Dial(ctx, ws.Config{URL: wsUrl.String(), Codec: codec})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	s, err := session.New(session.Config{
		Channel:   ch,
		Persister: adapter,
		OnChange: func(c bridge.Change) {
			if c.Remote {
				slog.Info("remote change", "op", c.Op.Type, "id", c.Op.ElementID, "origin", c.Op.Origin, "elements", c.State.Len())
			}
		},
	})
	if err != nil {
		return err
	}

	// The adapter outlives the session so writes queued during shutdown land.
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if err := adapter.Run(drainCtx); err != nil {
			slog.Warn("persistence stopped early", "err", err, "pending", adapter.Pending())
		}
	}()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session stopped", "err", err)
		}
	}()

	select {
	case <-s.Ready():
	case <-ctx.Done():
		wg.Wait()
		adapter.Close()
		<-drained
		return errors.New("session stopped before it was ready")
	}
	m := adapter.Map()
	s.SetZoom(m.ZoomLevel)
	slog.Info("established base state", "conn", s.ConnectionID(), "elements", s.Elements().Len(), "center", m.Center, "zoom", m.ZoomLevel)

	b := &bot{session: s, center: m.Center}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.wanderContinuously(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.placeRandomlyContinuously(ctx)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
	if err := s.LeaveCursor(leaveCtx); err != nil {
		slog.Warn("failed to hide cursor", "err", err)
	}
	leaveCancel()
	cancel()
	wg.Wait()

	adapter.Close()
	timer := time.AfterFunc(5*time.Second, drainCancel)
	<-drained
	timer.Stop()

	slog.Info("stopped", "elements", s.Elements().Len(), "stats", fmt.Sprintf("%+v", s.Stats()), "persisted", fmt.Sprintf("%+v", adapter.Stats()))
	return nil
}

// bot drives a session the way a person idly clicking around a map would.
type bot struct {
	session *session.Session
	center  canvas.Point
}

func (b *bot) jitter(spread float64) canvas.Point {
	return canvas.Point{
		Lat: b.center.Lat + (rand.Float64()-0.5)*spread,
		Lng: b.center.Lng + (rand.Float64()-0.5)*spread,
	}
}

func (b *bot) wanderContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := b.session.MoveCursor(ctx, b.jitter(0.05)); err != nil {
				slog.Debug("failed to move cursor", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *bot) placeRandomlyContinuously(ctx context.Context) {
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
		select {
		case <-t.C:
			b.placeOne()
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping random placement")
			return
		}
	}
}

func (b *bot) placeOne() {
	switch rand.Intn(3) {
	case 0:
		b.session.SelectTool(canvas.Marker)
		b.session.MapClick(b.jitter(0.1))
	case 1:
		b.session.SelectTool(canvas.Polyline)
		var last canvas.Point
		for i := 0; i < 3; i++ {
			last = b.jitter(0.1)
			b.session.MapClick(last)
		}
		// Clicking the last point again finishes the line.
		b.session.MapClick(last)
	default:
		b.session.SelectTool(canvas.Freehand)
		p := b.jitter(0.1)
		b.session.PointerDown(p, "")
		for i := 0; i < 10; i++ {
			p = canvas.Point{Lat: p.Lat + 0.001, Lng: p.Lng + (rand.Float64()-0.5)*0.002}
			b.session.PointerMove(p)
		}
		b.session.PointerUp()
	}
	slog.Info("placed", "elements", b.session.Elements().Len())
}
