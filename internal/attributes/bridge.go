// Package attributes keeps the side panel's editable fields in step with the selected shape.
package attributes

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/surface"
	"go.uber.org/zap"
)

var (
	// ErrUnknownAttribute indicates an edit against a field the panel does not expose.
	ErrUnknownAttribute = errors.New("attributes: unknown attribute")
	// ErrInvalidNumber indicates a numeric field edited with a value that does not parse.
	ErrInvalidNumber = errors.New("attributes: invalid number")

	errMissingSurface = errors.New("attributes: surface is required")
	errMissingUpdater = errors.New("attributes: updater is required")
)

// Attribute names one editable panel field.
type Attribute string

const (
	Width      Attribute = "width"
	Height     Attribute = "height"
	Fill       Attribute = "fill"
	Stroke     Attribute = "stroke"
	FontSize   Attribute = "fontSize"
	FontFamily Attribute = "fontFamily"
	FontWeight Attribute = "fontWeight"
)

// ParseAttribute maps a wire name to an Attribute.
func ParseAttribute(value string) (Attribute, error) {
	switch attribute := Attribute(strings.TrimSpace(value)); attribute {
	case Width, Height, Fill, Stroke, FontSize, FontFamily, FontWeight:
		return attribute, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, value)
	}
}

// Attributes is the panel state. Values are kept as the panel displays them.
type Attributes struct {
	Width      string `json:"width"`
	Height     string `json:"height"`
	FontSize   string `json:"fontSize"`
	FontFamily string `json:"fontFamily"`
	FontWeight string `json:"fontWeight"`
	Fill       string `json:"fill"`
	Stroke     string `json:"stroke"`
}

// DefaultAttributes is the panel state before anything is selected.
func DefaultAttributes() Attributes {
	return Attributes{Fill: shapes.DefaultFill, Stroke: shapes.DefaultFill}
}

// Updater commits a modified shape to the shared document.
type Updater interface {
	Update(shape shapes.Shape) error
}

type BridgeConfig struct {
	Surface surface.Surface
	Updater Updater
	Logger  *zap.Logger
}

// Bridge derives panel attributes from a single selected shape and writes panel edits back.
type Bridge struct {
	surface surface.Surface
	updater Updater
	logger  *zap.Logger

	mu         sync.Mutex
	attributes Attributes
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Surface == nil {
		return nil, errMissingSurface
	}
	if cfg.Updater == nil {
		return nil, errMissingUpdater
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		surface:    cfg.Surface,
		updater:    cfg.Updater,
		logger:     logger,
		attributes: DefaultAttributes(),
	}, nil
}

// Attributes returns the current panel state.
func (b *Bridge) Attributes() Attributes {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attributes
}

// SelectionChanged refreshes the panel from the selection. It runs on selection-created and
// scaling notifications. Only a single selected shape populates the panel; otherwise the panel
// keeps its previous values and false is returned.
func (b *Bridge) SelectionChanged() (Attributes, bool) {
	shape, ok := b.single()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !ok {
		return b.attributes, false
	}
	b.attributes = derive(shape)
	return b.attributes, true
}

// Edit applies a panel change to the selected shape. Width and height rescale the shape so its
// rendered box matches; every other field is set directly. It reports whether anything changed.
// Edits without exactly one selected shape are ignored.
func (b *Bridge) Edit(attribute Attribute, value string) (bool, error) {
	shape, ok := b.single()
	if !ok {
		return false, nil
	}
	changed, err := modify(&shape, attribute, strings.TrimSpace(value))
	if err != nil || !changed {
		return false, err
	}

	b.surface.Upsert(shape)
	b.surface.RequestRender()
	b.mu.Lock()
	b.attributes = derive(shape)
	b.mu.Unlock()

	if err := b.updater.Update(shape); err != nil {
		b.logger.Warn("attribute edit not synced",
			zap.String("object_id", shape.ObjectID),
			zap.String("attribute", string(attribute)),
			zap.Error(err))
		return true, err
	}
	return true, nil
}

func (b *Bridge) single() (shapes.Shape, bool) {
	selection := b.surface.Selection()
	if len(selection) != 1 {
		return shapes.Shape{}, false
	}
	return selection[0], true
}

func derive(shape shapes.Shape) Attributes {
	attributes := Attributes{
		Width:  formatNumber(math.Round(shape.ScaledWidth())),
		Height: formatNumber(math.Round(shape.ScaledHeight())),
		Fill:   shape.Style.Fill,
		Stroke: shape.Style.Stroke,
	}
	if text, ok := shape.Geometry.(shapes.Text); ok {
		attributes.FontSize = formatNumber(text.FontSize)
		attributes.FontFamily = text.FontFamily
		attributes.FontWeight = text.FontWeight
	}
	return attributes
}

func modify(shape *shapes.Shape, attribute Attribute, value string) (bool, error) {
	switch attribute {
	case Width, Height:
		size, err := parseNumber(value)
		if err != nil {
			return false, err
		}
		current := shape.ScaledHeight()
		if attribute == Width {
			current = shape.ScaledWidth()
		}
		if math.Round(current) == size {
			return false, nil
		}
		if attribute == Width {
			return shape.ScaleToWidth(size), nil
		}
		return shape.ScaleToHeight(size), nil
	case Fill:
		if shape.Style.Fill == value {
			return false, nil
		}
		shape.Style.Fill = value
		return true, nil
	case Stroke:
		if shape.Style.Stroke == value {
			return false, nil
		}
		shape.Style.Stroke = value
		return true, nil
	case FontSize, FontFamily, FontWeight:
		text, ok := shape.Geometry.(shapes.Text)
		if !ok {
			return false, nil
		}
		next := text
		switch attribute {
		case FontSize:
			size, err := parseNumber(value)
			if err != nil {
				return false, err
			}
			next.FontSize = size
		case FontFamily:
			next.FontFamily = value
		default:
			next.FontWeight = value
		}
		if next == text {
			return false, nil
		}
		shape.Geometry = next
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
	}
}

func parseNumber(value string) (float64, error) {
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	return number, nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
