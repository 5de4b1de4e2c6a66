package merchant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/corepay/gestpay/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// API is the HTTP surface of the merchant service: checkout flows, the
// gateway callback endpoint, post-authorization actions, and the card
// vault.
type API struct {
	checkout   *Checkout
	reconciler *Reconciler
	vault      *Vault
}

func NewAPI(checkout *Checkout, reconciler *Reconciler, vault *Vault) *API {
	return &API{
		checkout:   checkout,
		reconciler: reconciler,
		vault:      vault,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/checkout/{orderID}", func(r chi.Router) {
		r.Post("/redirect", a.startRedirect)
		r.Get("/iframe", a.iframeSession)
		r.Post("/stepup", a.storeStepUpKey)
		r.Post("/s2s", a.authorizeS2S)
		r.Post("/settle", a.settle)
		r.Post("/void", a.void)
		r.Post("/refund", a.refund)
	})

	r.Get("/callback", a.callback)

	r.Route("/customers/{customerID}/cards", func(r chi.Router) {
		r.Get("/", a.listCards)
		r.Post("/", a.saveCard)
		r.Delete("/{token}", a.deleteCard)
		r.Post("/{token}/default", a.setDefaultCard)
	})
}

func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
}

type buyerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (b *buyerRequest) buyer() *Buyer {
	if b == nil {
		return nil
	}
	return &Buyer{Email: b.Email, FirstName: b.FirstName, LastName: b.LastName}
}

func (a *API) startRedirect(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var body buyerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	redirectURL, err := a.checkout.RedirectURL(r.Context(), orderID, body.buyer())
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		PaymentURL string `json:"payment_url"`
	}{redirectURL})
}

func (a *API) iframeSession(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	buyer := &Buyer{
		Email:     r.URL.Query().Get("email"),
		FirstName: r.URL.Query().Get("first_name"),
		LastName:  r.URL.Query().Get("last_name"),
	}
	paRes := r.URL.Query().Get("PaRes")

	session, err := a.checkout.IframeSession(r.Context(), orderID, buyer, paRes)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (a *API) storeStepUpKey(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var body struct {
		TransKey string `json:"trans_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.checkout.StoreTransKey(r.Context(), orderID, body.TransKey); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) authorizeS2S(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var body struct {
		buyerRequest
		Card *struct {
			Number      string `json:"number"`
			ExpiryMonth string `json:"expiry_month"`
			ExpiryYear  string `json:"expiry_year"`
			CVV         string `json:"cvv"`
		} `json:"card"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var card *gateway.CardData
	if body.Card != nil {
		card = &gateway.CardData{
			Number:      body.Card.Number,
			ExpiryMonth: body.Card.ExpiryMonth,
			ExpiryYear:  body.Card.ExpiryYear,
			CVV:         body.Card.CVV,
		}
	}

	result, err := a.checkout.AuthorizeS2S(r.Context(), orderID, body.buyerRequest.buyer(), card, body.Token)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// callback receives the gateway's payment notification on both transport
// paths: the buyer's browser redirect and the machine-to-machine retry.
// Unrecognized or invalid deliveries get 200 with no side effects so the
// gateway stops retrying.
func (a *API) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := CallbackParams{
		ShopLogin:     q.Get("a"),
		CryptedString: q.Get("b"),
		UserAgent:     r.UserAgent(),
		PARes:         q.Get("PaRes"),
	}
	if raw := q.Get("order"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			params.OrderID = id
		}
	}

	outcome, err := a.reconciler.Reconcile(r.Context(), params)
	if err != nil {
		// Transport or decrypt failure: nothing was recorded, so a non-2xx
		// status keeps the gateway's server-to-server retries coming.
		http.Error(w, "callback not processed", http.StatusBadGateway)
		return
	}

	if outcome.Ignored {
		w.WriteHeader(http.StatusOK)
		return
	}

	if outcome.RedirectURL != "" {
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type amountRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (req *amountRequest) decimalAmount() (*decimal.Decimal, error) {
	if req.Amount == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (a *API) settle(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var body amountRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	amount, err := body.decimalAmount()
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	if err := a.checkout.Settle(r.Context(), orderID, amount); err != nil {
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) void(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	if err := a.checkout.Void(r.Context(), orderID); err != nil {
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) refund(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := body.decimalAmount()
	if err != nil || amount == nil {
		http.Error(w, "amount is required", http.StatusBadRequest)
		return
	}

	if err := a.checkout.Refund(r.Context(), orderID, *amount, body.Reason); err != nil {
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listCards(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	cards, err := a.vault.ListCards(r.Context(), customerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cards)
}

func (a *API) saveCard(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var body struct {
		Number      string `json:"number"`
		ExpiryMonth string `json:"expiry_month"`
		ExpiryYear  string `json:"expiry_year"`
		CVV         string `json:"cvv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	card, err := a.vault.SaveCard(r.Context(), customerID, gateway.CardData{
		Number:      body.Number,
		ExpiryMonth: body.ExpiryMonth,
		ExpiryYear:  body.ExpiryYear,
		CVV:         body.CVV,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(card)
}

func (a *API) deleteCard(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	token := chi.URLParam(r, "token")

	if err := a.vault.DeleteCard(r.Context(), customerID, token); err != nil {
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setDefaultCard(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	token := chi.URLParam(r, "token")

	if err := a.vault.SetDefaultCard(r.Context(), customerID, token); err != nil {
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeFlowError maps service errors to HTTP statuses: missing records to
// 404, gateway refusals and bad input to 422, everything else to 500.
func writeFlowError(w http.ResponseWriter, err error) {
	var rejected *gateway.EncryptionRejected
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &rejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
