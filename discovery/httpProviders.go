package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/adrata/crm_backend/models"
)

// HTTPProvider talks JSON over HTTP to a people-data vendor. The same client
// shape backs candidate search, contact validation and insight analysis, so
// any vendor exposing the three endpoints can be wired in by env config.
type HTTPProvider struct {
	name      string
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
}

// NewHTTPProvider builds a provider from PROVIDER_<NAME>_BASE_URL and
// PROVIDER_<NAME>_API_KEY. The key header defaults to X-API-Key.
func NewHTTPProvider(name string) (*HTTPProvider, error) {
	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	baseURL := strings.TrimSpace(os.Getenv("PROVIDER_" + envName + "_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base url is empty", name)
	}
	apiKey := strings.TrimSpace(os.Getenv("PROVIDER_" + envName + "_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: api key is empty", name)
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("PROVIDER_" + envName + "_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &HTTPProvider{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type candidateSearchRequest struct {
	CompanyName   string   `json:"company_name"`
	Website       string   `json:"website"`
	Industry      string   `json:"industry"`
	EmployeeCount int      `json:"employee_count"`
	TitleHints    []string `json:"title_hints"`
}

type candidateSearchResponse struct {
	Candidates []models.Candidate `json:"candidates"`
}

func (p *HTTPProvider) Search(ctx context.Context, company models.CompanyContext, roleHintTitles []string) ([]models.Candidate, error) {
	reqBody := candidateSearchRequest{
		CompanyName:   company.Name,
		Website:       company.Website,
		Industry:      company.Industry,
		EmployeeCount: company.EmployeeCount,
		TitleHints:    roleHintTitles,
	}
	var parsed candidateSearchResponse
	if err := p.postJSON(ctx, "/v1/people/search", reqBody, &parsed); err != nil {
		return nil, err
	}
	for i := range parsed.Candidates {
		parsed.Candidates[i].Source = p.name
	}
	return parsed.Candidates, nil
}

type contactValidateRequest struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (p *HTTPProvider) Validate(ctx context.Context, candidate models.Candidate) (ContactInfo, error) {
	reqBody := contactValidateRequest{
		Name:  candidate.Name,
		Title: candidate.Title,
		Email: candidate.Email,
		Phone: candidate.Phone,
	}
	var parsed ContactInfo
	if err := p.postJSON(ctx, "/v1/contacts/validate", reqBody, &parsed); err != nil {
		return ContactInfo{}, err
	}
	return parsed, nil
}

type insightRequest struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Department    string `json:"department"`
	Role          string `json:"role"`
	CompanyName   string `json:"company_name"`
	Industry      string `json:"industry"`
	SellerProduct string `json:"seller_product"`
}

func (p *HTTPProvider) Analyze(ctx context.Context, member models.BuyerGroupMember, company models.CompanyContext) (Insight, error) {
	reqBody := insightRequest{
		Name:          member.Name,
		Title:         member.Title,
		Department:    member.Department,
		Role:          member.Role,
		CompanyName:   company.Name,
		Industry:      company.Industry,
		SellerProduct: company.SellerProduct,
	}
	var parsed Insight
	if err := p.postJSON(ctx, "/v1/people/insights", reqBody, &parsed); err != nil {
		return Insight{}, err
	}
	return parsed, nil
}

func (p *HTTPProvider) postJSON(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set(p.apiKeyHdr, p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider %s error %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// ProvidersFromEnv builds the candidate provider chain from the
// comma-separated DISCOVERY_PROVIDERS list, preserving its waterfall order.
func ProvidersFromEnv() ([]CandidateProvider, error) {
	names := strings.TrimSpace(os.Getenv("DISCOVERY_PROVIDERS"))
	if names == "" {
		return nil, errors.New("DISCOVERY_PROVIDERS is empty")
	}
	var providers []CandidateProvider
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := NewHTTPProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no candidate providers configured")
	}
	return providers, nil
}
