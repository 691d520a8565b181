// Package participant runs one user's side of a room: the canvas editor, the live cursor, the
// reaction overlay and comment pins, all driven by text commands.
package participant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/attributes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/comments"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/editor"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/presence"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/reactions"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapesync"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("participant: unknown command")
	ErrUsage          = errors.New("participant: bad arguments")
	errMissingRoom    = errors.New("participant: room is required")
	errMissingIDs     = errors.New("participant: id provider is required")
)

// Room is what a participant needs from the room it joined.
type Room interface {
	collab.Document
	collab.History
	collab.PresenceChannel
	collab.BroadcastChannel
	collab.ThreadStore
}

type Config struct {
	Room       Room
	IDProvider shapes.IDProvider
	// Canvas defaults to 1280x720.
	Canvas          surface.Size
	Clock           clockwork.Clock
	CursorThrottle  time.Duration
	ChatIdleTimeout time.Duration
	Logger          *zap.Logger
}

// Participant owns the per-user components joined to one room.
type Participant struct {
	scene     *surface.Scene
	editor    *editor.Editor
	cursor    *presence.Broadcaster
	reactions *reactions.Bus
	comments  *comments.Anchor
	logger    *zap.Logger
	commands  map[string]command
}

type command struct {
	usage string
	run   func(ctx context.Context, args []string) (any, error)
}

// Status summarises what the participant sees.
type Status struct {
	Tool       drawing.Tool            `json:"tool"`
	Shapes     int                     `json:"shapes"`
	Selected   []string                `json:"selected"`
	Cursor     string                  `json:"cursor"`
	Others     []presence.RemoteCursor `json:"others"`
	Reactions  []reactions.Reaction    `json:"reactions"`
	Comments   string                  `json:"comments"`
	Layers     []shapesync.Layer       `json:"layers"`
	Attributes *attributes.Attributes  `json:"attributes,omitempty"`
}

func New(cfg Config) (*Participant, error) {
	if cfg.Room == nil {
		return nil, errMissingRoom
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDs
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	canvas := cfg.Canvas
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas = surface.Size{Width: 1280, Height: 720}
	}

	scene := surface.NewScene(canvas)
	canvasEditor, err := editor.New(editor.Config{
		Surface:    scene,
		Document:   cfg.Room,
		History:    cfg.Room,
		IDProvider: cfg.IDProvider,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	cursor, err := presence.NewBroadcaster(presence.BroadcasterConfig{
		Channel:         cfg.Room,
		Clock:           clock,
		Throttle:        cfg.CursorThrottle,
		ChatIdleTimeout: cfg.ChatIdleTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	bus, err := reactions.NewBus(reactions.BusConfig{
		Channel: cfg.Room,
		Source:  cursor,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		cursor.Close()
		return nil, err
	}
	anchor, err := comments.NewAnchor(comments.AnchorConfig{Store: cfg.Room, Clock: clock, Logger: logger})
	if err != nil {
		cursor.Close()
		return nil, err
	}

	p := &Participant{
		scene:     scene,
		editor:    canvasEditor,
		cursor:    cursor,
		reactions: bus,
		comments:  anchor,
		logger:    logger,
	}
	p.commands = p.commandTable()
	return p, nil
}

// Start renders the current document and starts the reaction loops until ctx ends or Close.
func (p *Participant) Start(ctx context.Context) error {
	p.editor.Start()
	if err := p.reactions.Start(ctx); err != nil {
		p.editor.Close()
		return err
	}
	return nil
}

// Close hides the cursor and detaches every component from the room.
func (p *Participant) Close() {
	p.reactions.Stop()
	p.cursor.Close()
	p.editor.Close()
}

// Status reports the participant's current view.
func (p *Participant) Status() Status {
	status := Status{
		Tool:      p.editor.ActiveTool(),
		Shapes:    len(p.scene.Objects()),
		Selected:  []string{},
		Cursor:    p.cursor.State().Mode.String(),
		Others:    p.cursor.RemoteCursors(),
		Reactions: p.reactions.Visible(),
		Comments:  p.comments.State().String(),
		Layers:    p.editor.Layers(),
	}
	for _, shape := range p.scene.Selection() {
		status.Selected = append(status.Selected, shape.ObjectID)
	}
	if selected, ok := p.editor.SelectionChanged(); ok {
		status.Attributes = &selected
	}
	return status
}

// Commands lists the command names with their usage, sorted.
func (p *Participant) Commands() []string {
	names := make([]string, 0, len(p.commands))
	for name, entry := range p.commands {
		names = append(names, strings.TrimSpace(name+" "+entry.usage))
	}
	sort.Strings(names)
	return names
}

// Execute runs one command line, e.g. "tool rectangle" or "down 10 20".
func (p *Participant) Execute(ctx context.Context, line string) (any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	entry, ok := p.commands[strings.ToLower(fields[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	result, err := entry.run(ctx, fields[1:])
	if errors.Is(err, ErrUsage) {
		return nil, fmt.Errorf("%w: %s %s", ErrUsage, fields[0], entry.usage)
	}
	return result, err
}

func (p *Participant) commandTable() map[string]command {
	return map[string]command{
		"status": {run: func(context.Context, []string) (any, error) { return p.Status(), nil }},
		"tool": {usage: "<select|rectangle|triangle|ellipse|line|text|freeform>", run: func(_ context.Context, args []string) (any, error) {
			if len(args) != 1 {
				return nil, ErrUsage
			}
			tool, err := parseTool(args[0])
			if err != nil {
				return nil, err
			}
			return tool, p.editor.SelectTool(tool)
		}},
		"down": {usage: "<x> <y>", run: p.pointer(func(at collab.Point) error {
			p.cursor.PointerDown(at)
			return p.editor.PointerDown(at)
		})},
		"move": {usage: "<x> <y>", run: p.pointer(func(at collab.Point) error {
			p.cursor.PointerMove(at)
			return p.editor.PointerMove(at)
		})},
		"up": {usage: "<x> <y>", run: p.pointer(func(at collab.Point) error {
			p.cursor.PointerUp()
			return p.editor.PointerUp(at)
		})},
		"leave": {run: func(context.Context, []string) (any, error) {
			p.cursor.PointerLeave()
			return nil, nil
		}},
		"key": {usage: "<key> [ctrl] [meta] [shift]", run: func(_ context.Context, args []string) (any, error) {
			if len(args) == 0 {
				return nil, ErrUsage
			}
			key := editor.Key{Key: args[0]}
			for _, modifier := range args[1:] {
				switch strings.ToLower(modifier) {
				case "ctrl":
					key.Ctrl = true
				case "meta":
					key.Meta = true
				case "shift":
					key.Shift = true
				default:
					return nil, ErrUsage
				}
			}
			handled, err := p.editor.HandleKey(key)
			if handled || err != nil {
				return handled, err
			}
			if key.Ctrl || key.Meta {
				return false, nil
			}
			return p.cursor.HandleKey(key.Key), nil
		}},
		"delete": {run: func(context.Context, []string) (any, error) { return nil, p.editor.Delete() }},
		"escape": {run: func(context.Context, []string) (any, error) { return nil, p.editor.Escape() }},
		"undo":   {run: func(context.Context, []string) (any, error) { return p.editor.Undo() }},
		"redo":   {run: func(context.Context, []string) (any, error) { return p.editor.Redo() }},
		"copy":   {run: func(context.Context, []string) (any, error) { return p.editor.Copy() }},
		"cut":    {run: func(context.Context, []string) (any, error) { return p.editor.Cut() }},
		"paste": {run: func(context.Context, []string) (any, error) {
			pasted, err := p.editor.Paste()
			if err != nil {
				return nil, err
			}
			objectIDs := make([]string, 0, len(pasted))
			for _, shape := range pasted {
				objectIDs = append(objectIDs, shape.ObjectID)
			}
			return objectIDs, nil
		}},
		"attr": {usage: "<width|height|fill|stroke|fontSize|fontFamily|fontWeight> <value>", run: func(_ context.Context, args []string) (any, error) {
			if len(args) < 2 {
				return nil, ErrUsage
			}
			attribute, err := attributes.ParseAttribute(args[0])
			if err != nil {
				return nil, err
			}
			return p.editor.EditAttribute(attribute, strings.Join(args[1:], " "))
		}},
		"image": {usage: "<src> <width> <height> <x> <y>", run: func(_ context.Context, args []string) (any, error) {
			if len(args) != 5 {
				return nil, ErrUsage
			}
			numbers, err := parseNumbers(args[1:])
			if err != nil {
				return nil, err
			}
			shape, err := p.editor.ImportImage(args[0], numbers[0], numbers[1], collab.Point{X: numbers[2], Y: numbers[3]})
			if err != nil {
				return nil, err
			}
			return shape.ObjectID, nil
		}},
		"layers": {run: func(context.Context, []string) (any, error) { return p.editor.Layers(), nil }},
		"chat": {run: func(context.Context, []string) (any, error) {
			p.cursor.OpenChat()
			return p.cursor.State().Mode.String(), nil
		}},
		"type": {usage: "<text>", run: func(_ context.Context, args []string) (any, error) {
			return p.cursor.Type(strings.Join(args, " ")), nil
		}},
		"send": {run: func(context.Context, []string) (any, error) { return p.cursor.Submit(), nil }},
		"react": {usage: "<emoji>", run: func(_ context.Context, args []string) (any, error) {
			if len(args) != 1 {
				return nil, ErrUsage
			}
			p.cursor.SelectReaction(args[0])
			return p.cursor.State().Mode.String(), nil
		}},
		"cursors":   {run: func(context.Context, []string) (any, error) { return p.cursor.RemoteCursors(), nil }},
		"reactions": {run: func(context.Context, []string) (any, error) { return p.reactions.Visible(), nil }},
		"comment": {run: func(context.Context, []string) (any, error) {
			return p.comments.Toggle().String(), nil
		}},
		"place": {usage: "<x> <y>", run: func(_ context.Context, args []string) (any, error) {
			at, err := parsePoint(args)
			if err != nil {
				return nil, err
			}
			return p.comments.Click(at).String(), nil
		}},
		"submit": {usage: "<body>", run: func(ctx context.Context, args []string) (any, error) {
			thread, err := p.comments.Submit(ctx, strings.Join(args, " "))
			if err != nil {
				return nil, err
			}
			return thread.ID, nil
		}},
		"pins": {run: func(ctx context.Context, _ []string) (any, error) { return p.comments.Pins(ctx) }},
		"pin": {usage: "<thread-id>", run: func(ctx context.Context, args []string) (any, error) {
			if len(args) != 1 {
				return nil, ErrUsage
			}
			return p.comments.TogglePin(ctx, args[0])
		}},
	}
}

func (p *Participant) pointer(handle func(at collab.Point) error) func(context.Context, []string) (any, error) {
	return func(_ context.Context, args []string) (any, error) {
		at, err := parsePoint(args)
		if err != nil {
			return nil, err
		}
		return nil, handle(at)
	}
}

func parseTool(value string) (drawing.Tool, error) {
	tool := drawing.Tool(strings.ToLower(value))
	switch tool {
	case drawing.ToolSelect, drawing.ToolRectangle, drawing.ToolTriangle, drawing.ToolEllipse,
		drawing.ToolLine, drawing.ToolText, drawing.ToolFreeform:
		return tool, nil
	default:
		return "", fmt.Errorf("%w: unknown tool %q", ErrUsage, value)
	}
}

func parsePoint(args []string) (collab.Point, error) {
	if len(args) != 2 {
		return collab.Point{}, ErrUsage
	}
	numbers, err := parseNumbers(args)
	if err != nil {
		return collab.Point{}, err
	}
	return collab.Point{X: numbers[0], Y: numbers[1]}, nil
}

func parseNumbers(args []string) ([]float64, error) {
	numbers := make([]float64, len(args))
	for index, arg := range args {
		number, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrUsage, arg)
		}
		numbers[index] = number
	}
	return numbers, nil
}
