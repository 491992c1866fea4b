package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

func formRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestBindNestedFormItems(t *testing.T) {
	req := formRequest(url.Values{
		"customer_id":          {"cust-1"},
		"items[1][product_id]": {"prod-b"},
		"items[1][quantity]":   {"2"},
		"items[1][unit_price]": {"12.50"},
		"items[0][product_id]": {"prod-a"},
		"items[0][quantity]":   {"1"},
		"items[0][unit_price]": {"0.10"},
		"discount":             {"1.005"},
	})

	var sale domain.SaleRequest
	require.NoError(t, bind(req, &sale, nil))

	require.Len(t, sale.Items, 2)
	assert.Equal(t, "prod-a", sale.Items[0].ProductID)
	assert.Equal(t, 2, sale.Items[1].Quantity)
	assert.True(t, sale.Items[1].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "1.005", sale.Discount.String(), "decimals are read exactly")
}

func TestBindJSONKeepsDecimalPrecision(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sale_id":"s1","amount":69.995,"method":"cash"}`))
	req.Header.Set("Content-Type", "application/json")

	var payment domain.RecordPaymentRequest
	require.NoError(t, bind(req, &payment, nil))

	assert.Equal(t, "69.995", payment.Amount.String())
}

func TestBindPathOverridesBodyAndHeaderSuppliesKey(t *testing.T) {
	req := formRequest(url.Values{"batch_id": {"from-body"}, "status": {"cutting"}})
	req.Header.Set(idempotencyHeader, "key-1")

	var adv domain.AdvanceStatusRequest
	require.NoError(t, bind(req, &adv, map[string]string{"batch_id": "from-path"}))

	assert.Equal(t, "from-path", adv.BatchID)
	assert.Equal(t, domain.BatchCutting, adv.Status)
	assert.Equal(t, "key-1", adv.IdempotencyKey)
}

func TestBindReportsWireFieldNames(t *testing.T) {
	req := formRequest(url.Values{"customer_id": {"c"}, "items[0][quantity]": {"0"}})

	var sale domain.SaleRequest
	err := bind(req, &sale, nil)

	require.ErrorIs(t, err, store.ErrValidation)
	assert.Contains(t, err.Error(), "items[0].product_id is required")
	assert.Contains(t, err.Error(), "items[0].quantity must be greater than 0")
}

func TestBindRejectsMalformedInput(t *testing.T) {
	jsonReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fund_id":`))
	jsonReq.Header.Set("Content-Type", "application/json")

	cases := []struct {
		name string
		req  *http.Request
		dest any
	}{
		{"bad decimal", formRequest(url.Values{"fund_id": {"f"}, "amount": {"ten"}, "type": {"other"}}), &domain.RecordUsageRequest{}},
		{"bad int", formRequest(url.Values{"product_id": {"p"}, "quantity": {"lots"}}), &domain.CreateBatchRequest{}},
		{"bad key", formRequest(url.Values{"items[0": {"x"}}), &domain.SaleRequest{}},
		{"truncated json", jsonReq, &domain.RecordUsageRequest{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, bind(tc.req, tc.dest, nil), store.ErrValidation)
		})
	}
}

func TestFormValuesMixedGroupAndScalar(t *testing.T) {
	_, err := formValues(map[string][]string{
		"items":              {"x"},
		"items[0][quantity]": {"1"},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSplitFormKey(t *testing.T) {
	parts, err := splitFormKey("materials[3][quantity_used]")
	require.NoError(t, err)
	assert.Equal(t, []string{"materials", "3", "quantity_used"}, parts)

	parts, err = splitFormKey("plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, parts)

	_, err = splitFormKey("a[b]c")
	assert.ErrorIs(t, err, store.ErrValidation)
}
