// Package menu drives the interactive brand, model, year and quote selection
// as an explicit state machine. A state only advances after the request for
// the next listing succeeds.
package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	httperrors "github.com/nczempin/httpc-fipe/errors"
	"github.com/nczempin/httpc-fipe/fipe"
)

// DefaultRetryDelay is the pause after an invalid code before prompting again.
const DefaultRetryDelay = 3 * time.Second

// State is a step of the selection flow.
type State int

const (
	StateBrands State = iota
	StateModels
	StateYears
	StateQuote
	StateSave
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBrands:
		return "brands"
	case StateModels:
		return "models"
	case StateYears:
		return "years"
	case StateQuote:
		return "quote"
	case StateSave:
		return "save"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Catalog is the subset of fipe.API the menu walks.
type Catalog interface {
	Brands(ctx context.Context) ([]fipe.Item, error)
	Models(ctx context.Context, brand int) ([]fipe.Item, error)
	Years(ctx context.Context, brand, model int) ([]fipe.Item, error)
	Quote(ctx context.Context, brand, model int, year string) (*fipe.Quote, error)
}

// Saver persists a confirmed quote and returns where it went.
type Saver interface {
	Save(ctx context.Context, q *fipe.Quote) (string, error)
}

// Options configures a Menu.
type Options struct {
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Menu holds the selection made so far and the listings fetched for it.
type Menu struct {
	catalog Catalog
	saver   Saver
	in      *bufio.Scanner
	out     io.Writer
	delay   time.Duration
	logger  *slog.Logger

	state  State
	brand  fipe.Item
	model  fipe.Item
	brands []fipe.Item
	models []fipe.Item
	years  []fipe.Item
	quote  *fipe.Quote
}

var errEndOfInput = errors.New("menu: end of input")

// New returns a Menu reading answers from in and writing prompts to out.
// saver may be nil, in which case the save step is skipped.
func New(catalog Catalog, saver Saver, in io.Reader, out io.Writer, opts Options) *Menu {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Menu{
		catalog: catalog,
		saver:   saver,
		in:      bufio.NewScanner(in),
		out:     out,
		delay:   opts.RetryDelay,
		logger:  logger,
		state:   StateBrands,
	}
}

// State reports the current state.
func (m *Menu) State() State {
	return m.state
}

// Run drives the flow until the user exits at the brand prompt, input ends,
// or a request fails with anything other than an invalid code.
func (m *Menu) Run(ctx context.Context) error {
	for m.state != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		prev := m.state
		err := m.step(ctx)
		if errors.Is(err, errEndOfInput) {
			m.state = StateDone
			return nil
		}
		if err != nil {
			return err
		}
		if m.state != prev {
			m.logger.Debug("menu transition", "from", prev.String(), "to", m.state.String())
		}
	}
	return nil
}

func (m *Menu) step(ctx context.Context) error {
	switch m.state {
	case StateBrands:
		return m.selectBrand(ctx)
	case StateModels:
		return m.selectModel(ctx)
	case StateYears:
		return m.selectYear(ctx)
	case StateQuote:
		m.showQuote()
		return nil
	case StateSave:
		return m.confirmSave(ctx)
	default:
		return fmt.Errorf("menu: unexpected state %d", m.state)
	}
}

func (m *Menu) selectBrand(ctx context.Context) error {
	if m.brands == nil {
		brands, err := m.catalog.Brands(ctx)
		if err != nil {
			return m.fail(err)
		}
		m.brands = brands
	}

	fmt.Fprint(m.out, "VEHICLE BRANDS:\n\nCODE\t\tNAME\n")
	for _, b := range m.brands {
		fmt.Fprintf(m.out, "%3s\t\t%s\n", b.Code, b.Name)
	}

	code, err := m.promptCode("\nChoose a brand by code [0 to exit]: ")
	if err != nil {
		return err
	}
	if code == 0 {
		m.state = StateDone
		return nil
	}

	models, err := m.catalog.Models(ctx, code)
	if err != nil {
		return m.retryOrFail(ctx, err)
	}

	key := strconv.Itoa(code)
	m.brand = fipe.Item{Code: fipe.Code(key), Name: fipe.FindName(m.brands, key)}
	m.models = models
	m.state = StateModels
	return nil
}

func (m *Menu) selectModel(ctx context.Context) error {
	fmt.Fprintf(m.out, "\nMODELS OF BRAND %q:\n\nCODE\t\tNAME\n", m.brand.Name)
	for _, mod := range m.models {
		fmt.Fprintf(m.out, "%5s\t\t%s\n", mod.Code, mod.Name)
	}

	code, err := m.promptCode("\nChoose a model by code [0 to go back]: ")
	if err != nil {
		return err
	}
	if code == 0 {
		m.state = StateBrands
		return nil
	}

	brand, _ := m.brand.Code.Int()
	years, err := m.catalog.Years(ctx, brand, code)
	if err != nil {
		return m.retryOrFail(ctx, err)
	}

	key := strconv.Itoa(code)
	m.model = fipe.Item{Code: fipe.Code(key), Name: fipe.FindName(m.models, key)}
	m.years = years
	m.state = StateYears
	return nil
}

func (m *Menu) selectYear(ctx context.Context) error {
	fmt.Fprintf(m.out, "\nYEARS OF MODEL %q:\n\nYEAR\t\tTYPE\n", m.model.Name)
	for _, y := range m.years {
		fmt.Fprintf(m.out, "%s\t\t%s\n", y.Code, y.Name)
	}

	year, err := m.prompt("\nChoose a year (example: \"2024-2\") [0 to go back]: ")
	if err != nil {
		return err
	}
	if year == "" {
		return nil
	}
	if year == "0" {
		m.state = StateModels
		return nil
	}

	brand, _ := m.brand.Code.Int()
	model, _ := m.model.Code.Int()
	q, err := m.catalog.Quote(ctx, brand, model, year)
	if err != nil {
		return m.retryOrFail(ctx, err)
	}

	m.quote = q
	m.state = StateQuote
	return nil
}

func (m *Menu) showQuote() {
	fmt.Fprintf(m.out, "\nDETAILS:\n\n%s\n", m.quote.Summary())
	if m.saver == nil {
		m.state = StateBrands
		return
	}
	m.state = StateSave
}

func (m *Menu) confirmSave(ctx context.Context) error {
	answer, err := m.prompt("\nSave these details to a file? [yes/no]: ")
	if err != nil {
		return err
	}

	switch strings.ToLower(answer) {
	case "s", "sim", "y", "yes":
		where, err := m.saver.Save(ctx, m.quote)
		if err != nil {
			fmt.Fprintf(m.out, "Could not save: %v\n", err)
			return err
		}
		fmt.Fprintf(m.out, "Saved to %s. Back to the main menu.\n\n", where)
	case "n", "nao", "não", "no":
		fmt.Fprint(m.out, "Not saved. Back to the main menu.\n\n")
	default:
		fmt.Fprint(m.out, "Answer not recognised, try again.\n")
		return nil
	}

	m.quote = nil
	m.state = StateBrands
	return nil
}

// retryOrFail keeps the current state for an invalid code and aborts otherwise.
func (m *Menu) retryOrFail(ctx context.Context, err error) error {
	if !errors.Is(err, fipe.ErrInvalidCode) {
		return m.fail(err)
	}

	fmt.Fprint(m.out, "\nInvalid code! Try again\n\n")
	m.logger.Info("invalid code", "state", m.state.String())
	if m.delay <= 0 {
		return nil
	}

	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Menu) fail(err error) error {
	if httperrors.IsProtocol(err) {
		fmt.Fprintf(m.out, "\nMalformed server response, giving up: %v\n", err)
	} else {
		fmt.Fprintf(m.out, "\nRequest failed: %v\n", err)
	}
	m.logger.Error("menu aborted", "state", m.state.String(), "error", err)
	return err
}

func (m *Menu) prompt(text string) (string, error) {
	fmt.Fprint(m.out, text)
	if !m.in.Scan() {
		if err := m.in.Err(); err != nil {
			return "", err
		}
		return "", errEndOfInput
	}
	return strings.TrimSpace(m.in.Text()), nil
}

// promptCode asks until the answer is a non-negative integer.
func (m *Menu) promptCode(text string) (int, error) {
	for {
		answer, err := m.prompt(text)
		if err != nil {
			return 0, err
		}
		code, err := strconv.Atoi(answer)
		if err == nil && code >= 0 {
			return code, nil
		}
		fmt.Fprintf(m.out, "%q is not a numeric code.\n", answer)
	}
}
