// Package fipe maps FIPE vehicle-price resources onto request paths and
// decodes the JSON bodies returned for them.
package fipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nczempin/httpc-fipe/protocol"
)

// ErrInvalidCode is returned when the API answers 500, which it does for any
// unknown brand, model or year code.
var ErrInvalidCode = errors.New("fipe: invalid code")

// StatusError reports a response status other than 200 or 500.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fipe: %s: unexpected status %d", e.Path, e.Status)
}

// Getter performs one GET exchange for a path relative to the API base.
type Getter interface {
	Get(ctx context.Context, path string) (*protocol.Response, error)
}

// Vehicle is the vehicle category segment of the API base path.
type Vehicle string

const (
	Cars        Vehicle = "carros"
	Motorcycles Vehicle = "motos"
	Trucks      Vehicle = "caminhoes"
)

// ParseVehicle validates a vehicle category name.
func ParseVehicle(s string) (Vehicle, error) {
	switch v := Vehicle(s); v {
	case Cars, Motorcycles, Trucks:
		return v, nil
	}
	return "", fmt.Errorf("fipe: unknown vehicle type %q (want carros, motos or caminhoes)", s)
}

// BasePath returns the API prefix for v.
func BasePath(v Vehicle) string {
	return "/fipe/api/v1/" + string(v)
}

func BrandsPath() string {
	return "marcas"
}

func ModelsPath(brand int) string {
	return fmt.Sprintf("marcas/%d/modelos", brand)
}

func YearsPath(brand, model int) string {
	return fmt.Sprintf("marcas/%d/modelos/%d/anos", brand, model)
}

func QuotePath(brand, model int, year string) string {
	return fmt.Sprintf("marcas/%d/modelos/%d/anos/%s", brand, model, url.PathEscape(year))
}

// Code is an identifier the API sends either as a JSON string or a number.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("fipe: code %s is neither string nor number", data)
	}
	*c = Code(n.String())
	return nil
}

// Int returns the code as an integer, for brand and model codes.
func (c Code) Int() (int, error) {
	return strconv.Atoi(string(c))
}

// Item is one entry of a brand, model or year listing.
type Item struct {
	Code Code   `json:"codigo"`
	Name string `json:"nome"`
}

// FindName returns the name of the item with the given code, or "".
func FindName(items []Item, code string) string {
	for _, it := range items {
		if string(it.Code) == code {
			return it.Name
		}
	}
	return ""
}

type modelsPage struct {
	Models []Item `json:"modelos"`
	Years  []Item `json:"anos"`
}

// Quote is the price record for one brand, model and year.
type Quote struct {
	VehicleType    int    `json:"TipoVeiculo"`
	Price          string `json:"Valor"`
	Brand          string `json:"Marca"`
	Model          string `json:"Modelo"`
	ModelYear      int    `json:"AnoModelo"`
	Fuel           string `json:"Combustivel"`
	FipeCode       string `json:"CodigoFipe"`
	ReferenceMonth string `json:"MesReferencia"`
	FuelAbbrev     string `json:"SiglaCombustivel"`
}

// Summary renders the information block shown to the user and saved to disk.
func (q *Quote) Summary() string {
	return fmt.Sprintf("Marca: %s\nModelo: %s\nAno: %d\nCombustível: %s\nData Consulta: %s\nVALOR: %s",
		q.Brand, q.Model, q.ModelYear, q.Fuel, q.ReferenceMonth, q.Price)
}

// API is a typed view over the FIPE endpoints.
type API struct {
	getter Getter
}

// New returns an API issuing requests through g.
func New(g Getter) *API {
	return &API{getter: g}
}

// Brands lists every brand.
func (a *API) Brands(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := a.fetch(ctx, BrandsPath(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Models lists the models of a brand.
func (a *API) Models(ctx context.Context, brand int) ([]Item, error) {
	var page modelsPage
	if err := a.fetch(ctx, ModelsPath(brand), &page); err != nil {
		return nil, err
	}
	return page.Models, nil
}

// Years lists the year/fuel variants of a model.
func (a *API) Years(ctx context.Context, brand, model int) ([]Item, error) {
	var items []Item
	if err := a.fetch(ctx, YearsPath(brand, model), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Quote fetches the price for a year code such as "2024-1".
func (a *API) Quote(ctx context.Context, brand, model int, year string) (*Quote, error) {
	var q Quote
	if err := a.fetch(ctx, QuotePath(brand, model, year), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (a *API) fetch(ctx context.Context, path string, v any) error {
	resp, err := a.getter.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("fipe: %s: %w", path, err)
	}

	switch resp.Status {
	case 200:
	case 500:
		return ErrInvalidCode
	default:
		return &StatusError{Path: path, Status: resp.Status, Body: resp.Text()}
	}

	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("fipe: decode %s: %w", path, err)
	}
	return nil
}
