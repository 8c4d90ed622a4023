package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Inputs start a fresh creation run.
type Inputs struct {
	Plot        string        `validate:"required"`
	Genre       string        `validate:"required"`
	NumChapters int           `validate:"gte=1,lte=200"`
	ANPC        int           `validate:"gte=0"`
	Mode        story.RunMode `validate:"required,oneof=FULL OVERVIEW START_EMPTY"`
}

var validate = validator.New()

// Validate checks the inputs. START_EMPTY only needs a chapter target.
func (in Inputs) Validate() error {
	if in.Mode == story.RunStartEmpty {
		return validate.StructExcept(in, "Plot", "Genre")
	}
	return validate.Struct(in)
}

// State builds the initial story state for the inputs.
func (in Inputs) State() story.State {
	return story.State{
		Plot:         in.Plot,
		Genre:        in.Genre,
		ChaptersFull: []string{},
		NumChapters:  in.NumChapters,
		ANPC:         in.ANPC,
		RunMode:      in.Mode,
		StatusLog:    []string{},
	}
}

// Anchor names the point a refresh restarts from.
type Anchor struct {
	Step    string
	Chapter int
}

var (
	AnchorExpanded = Anchor{Step: "expanded"}
	AnchorOverview = Anchor{Step: "overview"}
)

func AnchorChapter(k int) Anchor { return Anchor{Step: "chapter", Chapter: k} }

func (a Anchor) String() string {
	if a.Step == "chapter" {
		return strconv.Itoa(a.Chapter)
	}
	return a.Step
}

// ParseAnchor accepts "expanded", "overview" or a chapter number.
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expanded", "plot":
		return AnchorExpanded, nil
	case "overview":
		return AnchorOverview, nil
	}
	k, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || k < 1 {
		return Anchor{}, fmt.Errorf("invalid refresh anchor %q", s)
	}
	return AnchorChapter(k), nil
}
