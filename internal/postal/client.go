// Package postal resolves Brazilian postal codes (CEP) to addresses through a
// ViaCEP compatible endpoint.
package postal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/validation"
)

const (
	DefaultBaseURL = "https://viacep.com.br/ws"
	DefaultTimeout = 5 * time.Second

	cacheSize = 1024
	cacheTTL  = 24 * time.Hour
)

// Address is the lookup result.
type Address struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	IBGE         string `json:"ibge,omitempty"`
}

type viaCEPResponse struct {
	CEP         string `json:"cep"`
	Logradouro  string `json:"logradouro"`
	Complemento string `json:"complemento"`
	Bairro      string `json:"bairro"`
	Localidade  string `json:"localidade"`
	UF          string `json:"uf"`
	IBGE        string `json:"ibge"`
	Erro        any    `json:"erro"`
}

// notFound reports ViaCEP's {"erro": true}; older deployments send "true".
func (r viaCEPResponse) notFound() bool {
	switch v := r.Erro.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Client looks up postal codes and remembers successful answers for a day.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *expirable.LRU[string, Address]
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   expirable.NewLRU[string, Address](cacheSize, nil, cacheTTL),
		log:     log,
	}
}

// Normalize strips separators and checks for exactly eight digits.
func Normalize(code string) (string, error) {
	digits := validation.Digits(code)
	clean := strings.NewReplacer("-", "", ".", "", " ", "").Replace(strings.TrimSpace(code))
	if len(digits) != 8 || clean != digits {
		return "", apperr.InvalidPostalCode.WithMessage("postal code must have exactly 8 digits")
	}
	return digits, nil
}

// Format renders eight digits as 00000-000.
func Format(digits string) string {
	if len(digits) != 8 {
		return digits
	}
	return digits[:5] + "-" + digits[5:]
}

// Lookup resolves code. An unknown code is a validation error; transport and
// upstream failures are reported as an unavailable external service.
func (c *Client) Lookup(ctx context.Context, code string) (Address, error) {
	digits, err := Normalize(code)
	if err != nil {
		return Address{}, err
	}
	if a, ok := c.cache.Get(digits); ok {
		return a, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.baseURL, digits), nil)
	if err != nil {
		return Address{}, apperr.Internal.WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	c.log.Debugw("postal lookup", "postal_code", digits)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Errorw("postal lookup failed", "postal_code", digits, "error", err)
		return Address{}, unavailable(digits, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return Address{}, apperr.InvalidPostalCode.WithDetail("postal_code", digits)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Errorw("postal lookup failed", "postal_code", digits, "status", resp.StatusCode)
		return Address{}, unavailable(digits, fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	var body viaCEPResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Address{}, unavailable(digits, err)
	}
	if body.notFound() {
		c.log.Warnw("postal code not found", "postal_code", digits)
		return Address{}, apperr.InvalidPostalCode.WithMessage("postal code not found").WithDetail("postal_code", digits)
	}

	a := Address{
		PostalCode:   Format(digits),
		Street:       body.Logradouro,
		Complement:   body.Complemento,
		Neighborhood: body.Bairro,
		City:         body.Localidade,
		State:        body.UF,
		IBGE:         body.IBGE,
	}
	c.cache.Add(digits, a)
	return a, nil
}

func unavailable(digits string, err error) error {
	msg := "postal code service unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "postal code service timed out, try again"
	}
	return apperr.ExternalService.WithMessage(msg).
		WithDetail("service", "viacep").
		WithDetail("postal_code", digits).
		WithCause(err)
}
