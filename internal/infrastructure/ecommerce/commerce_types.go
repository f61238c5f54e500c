package ecommerce

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Wire types of the commerce platform admin API

type compositeComponentDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type compositeOfferingRequest struct {
	CompositeOffering compositeOfferingBody `json:"composite_offering"`
}

type compositeOfferingBody struct {
	Title          string                  `json:"title"`
	Description    string                  `json:"description,omitempty"`
	Price          decimal.Decimal         `json:"price"`
	Currency       string                  `json:"currency"`
	Components     []compositeComponentDTO `json:"components"`
	ServiceSummary string                  `json:"service_summary,omitempty"`
}

type operationEnvelope struct {
	Operation operationDTO `json:"operation"`
}

type operationDTO struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Resource *resourceDTO `json:"resource,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
}

type resourceDTO struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle,omitempty"`
	AdminURL  string    `json:"admin_url,omitempty"`
	Version   int64     `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type metadataDTO struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

type metadataRequest struct {
	Metadata []metadataDTO `json:"metadata"`
}

type resourceEnvelope struct {
	Resource resourceDTO `json:"resource"`
}

type offeringEnvelope struct {
	CompositeOffering offeringDTO `json:"composite_offering"`
}

type offeringDTO struct {
	ID          string                  `json:"id"`
	Handle      string                  `json:"handle"`
	AdminURL    string                  `json:"admin_url"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Price       decimal.Decimal         `json:"price"`
	Currency    string                  `json:"currency"`
	Components  []compositeComponentDTO `json:"components"`
	Version     int64                   `json:"version"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// errorEnvelope covers both {"errors":[...]} and {"errors":"..."} bodies
type errorEnvelope struct {
	Errors  any    `json:"errors"`
	Message string `json:"message"`
}

func (e errorEnvelope) messages() []string {
	var out []string
	switch v := e.Errors.(type) {
	case string:
		out = append(out, v)
	case []any:
		for _, item := range v {
			switch m := item.(type) {
			case string:
				out = append(out, m)
			case map[string]any:
				if s, ok := m["message"].(string); ok {
					out = append(out, s)
				}
			}
		}
	case map[string]any:
		for field, msgs := range v {
			if list, ok := msgs.([]any); ok {
				for _, m := range list {
					if s, ok := m.(string); ok {
						out = append(out, field+" "+s)
					}
				}
			}
		}
		sort.Strings(out)
	}
	if len(out) == 0 && e.Message != "" {
		out = append(out, e.Message)
	}
	return out
}
