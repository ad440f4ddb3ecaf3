package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
)

const (
	metaShippingDetail = "shipping_detail_id"
	metaUserID         = "user_id"
	metaCartParts      = "cart_parts"
	metaDiscountCodes  = "discount_codes"
	metaShippingCost   = "shipping_cost"
)

// Limites Stripe: 500 caractères par valeur, 50 clés par objet.
const (
	maxMetadataValue = 500
	maxMetadataKeys  = 50
)

var (
	ErrInvalidSignature = errors.New("signature Stripe invalide")
	ErrInvalidPayload   = errors.New("payload Stripe invalide")
	ErrMetadataTooLarge = errors.New("panier trop volumineux pour les métadonnées Stripe")
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// FrontendURL sert à construire les URLs de retour du checkout.
	FrontendURL string
}

// StripeGateway crée les sessions Stripe Checkout et vérifie leurs webhooks.
type StripeGateway struct {
	cfg    StripeConfig
	logger *zap.Logger
}

func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	return &StripeGateway{cfg: cfg, logger: logger}
}

func (g *StripeGateway) CreateSession(_ context.Context, intent models.CheckoutIntent, amount decimal.Decimal) (*models.GatewaySession, error) {
	metadata, err := intentMetadata(intent)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.cfg.FrontendURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.cfg.FrontendURL + "/checkout/cancel"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.cfg.Currency),
				UnitAmount: stripe.Int64(toCents(amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Commande Cedra"),
				},
			},
		}},
		Metadata: metadata,
	}

	s, err := session.New(params)
	if err != nil {
		g.logger.Error("❌ Erreur Stripe", zap.Error(err))
		return nil, err
	}
	return &models.GatewaySession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) RetrieveSession(_ context.Context, sessionID string) (*models.GatewayCheckout, error) {
	s, err := session.Get(sessionID, nil)
	if err != nil {
		return nil, err
	}
	return checkoutFromSession(s)
}

// ParseWebhook vérifie la signature et retourne le checkout confirmé.
// Les événements qui ne concernent pas un checkout retournent (nil, nil).
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*models.GatewayCheckout, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		g.logger.Info("ℹ️ Événement ignoré", zap.String("type", string(event.Type)))
		return nil, nil
	}

	var s stripe.CheckoutSession
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &s) != nil {
		return nil, ErrInvalidPayload
	}
	return checkoutFromSession(&s)
}

func checkoutFromSession(s *stripe.CheckoutSession) (*models.GatewayCheckout, error) {
	intent, err := intentFromMetadata(s.Metadata)
	if err != nil {
		return nil, err
	}
	intent.PaymentType = models.PaymentTypeCard
	intent.PaymentReference = s.ID
	return &models.GatewayCheckout{
		SessionID: s.ID,
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Intent:    intent,
	}, nil
}

// intentMetadata sérialise l'intent dans les métadonnées de la session,
// le webhook le reconstruit sans dépendre du panier Redis. Le panier est
// découpé en cart_0..cart_n pour tenir dans la limite d'une valeur.
func intentMetadata(intent models.CheckoutIntent) (map[string]string, error) {
	cart, err := json.Marshal(intent.Lines)
	if err != nil {
		return nil, fmt.Errorf("sérialisation panier: %w", err)
	}
	parts := splitValue(string(cart), maxMetadataValue)
	md := map[string]string{
		metaShippingDetail: intent.ShippingDetailID,
		metaCartParts:      strconv.Itoa(len(parts)),
		metaShippingCost:   intent.ShippingCost.String(),
	}
	for i, part := range parts {
		md[cartKey(i)] = part
	}
	if intent.UserID != nil {
		md[metaUserID] = *intent.UserID
	}
	if len(intent.DiscountCodes) > 0 {
		md[metaDiscountCodes] = strings.Join(intent.DiscountCodes, ",")
	}

	if len(md) > maxMetadataKeys {
		return nil, fmt.Errorf("%w: %d lignes", ErrMetadataTooLarge, len(intent.Lines))
	}
	for key, value := range md {
		if len(value) > maxMetadataValue {
			return nil, fmt.Errorf("%w: %s", ErrMetadataTooLarge, key)
		}
	}
	return md, nil
}

func intentFromMetadata(md map[string]string) (models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	intent.ShippingDetailID = md[metaShippingDetail]
	if intent.ShippingDetailID == "" {
		return intent, fmt.Errorf("%w: métadonnées incomplètes", ErrInvalidPayload)
	}
	cart, err := cartFromMetadata(md)
	if err != nil {
		return intent, err
	}
	if err := json.Unmarshal([]byte(cart), &intent.Lines); err != nil {
		return intent, fmt.Errorf("%w: panier: %v", ErrInvalidPayload, err)
	}
	if v := md[metaShippingCost]; v != "" {
		cost, err := decimal.NewFromString(v)
		if err != nil {
			return intent, fmt.Errorf("%w: frais de livraison: %v", ErrInvalidPayload, err)
		}
		intent.ShippingCost = cost
	}
	if v := md[metaUserID]; v != "" {
		intent.UserID = &v
	}
	if v := md[metaDiscountCodes]; v != "" {
		intent.DiscountCodes = strings.Split(v, ",")
	}
	return intent, nil
}

func cartKey(i int) string { return "cart_" + strconv.Itoa(i) }

func cartFromMetadata(md map[string]string) (string, error) {
	n, err := strconv.Atoi(md[metaCartParts])
	if err != nil || n <= 0 || n > maxMetadataKeys {
		return "", fmt.Errorf("%w: panier absent", ErrInvalidPayload)
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		part, ok := md[cartKey(i)]
		if !ok {
			return "", fmt.Errorf("%w: %s manquant", ErrInvalidPayload, cartKey(i))
		}
		b.WriteString(part)
	}
	return b.String(), nil
}

// splitValue coupe s en morceaux d'au plus limit octets sans couper un caractère UTF-8.
func splitValue(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
