package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	paymentdomain "github.com/smallbiznis/paysync/internal/payment/domain"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/paysync/internal/subscription/domain"
	"github.com/smallbiznis/paysync/pkg/db/pagination"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type customerRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Email         string `json:"email" validate:"required,email"`
	CPFCNPJ       string `json:"cpfCnpj" validate:"required,min=11,max=18"`
	Phone         string `json:"phone" validate:"omitempty,max=20"`
	PostalCode    string `json:"postalCode" validate:"omitempty,max=9"`
	AddressNumber string `json:"addressNumber" validate:"omitempty,max=10"`
}

type creditCardRequest struct {
	HolderName  string `json:"holderName" validate:"required"`
	Number      string `json:"number" validate:"required,min=12,max=19"`
	ExpiryMonth string `json:"expiryMonth" validate:"required,len=2,numeric"`
	ExpiryYear  string `json:"expiryYear" validate:"required,len=4,numeric"`
	CCV         string `json:"ccv" validate:"required,min=3,max=4,numeric"`
}

type checkoutRequest struct {
	OwnerID       string             `json:"ownerId" validate:"required"`
	BillingMethod string             `json:"billingMethod" validate:"required,oneof=credit_card pix boleto"`
	Value         int64              `json:"value" validate:"required,gt=0"`
	Description   string             `json:"description" validate:"omitempty,max=255"`
	Customer      customerRequest    `json:"customer"`
	CreditCard    *creditCardRequest `json:"creditCard" validate:"required_if=BillingMethod credit_card,omitempty"`
}

func (r checkoutRequest) toDomain(remoteIP string) reconciledomain.CheckoutRequest {
	out := reconciledomain.CheckoutRequest{
		OwnerID:       strings.TrimSpace(r.OwnerID),
		BillingMethod: subscriptiondomain.BillingMethod(r.BillingMethod),
		Value:         r.Value,
		Description:   r.Description,
		RemoteIP:      remoteIP,
		Customer: reconciledomain.Customer{
			Name:          strings.TrimSpace(r.Customer.Name),
			Email:         strings.TrimSpace(r.Customer.Email),
			CPFCNPJ:       strings.TrimSpace(r.Customer.CPFCNPJ),
			Phone:         strings.TrimSpace(r.Customer.Phone),
			PostalCode:    strings.TrimSpace(r.Customer.PostalCode),
			AddressNumber: strings.TrimSpace(r.Customer.AddressNumber),
		},
	}
	if r.CreditCard != nil {
		out.CreditCard = &paymentdomain.CreditCard{
			HolderName:  r.CreditCard.HolderName,
			Number:      r.CreditCard.Number,
			ExpiryMonth: r.CreditCard.ExpiryMonth,
			ExpiryYear:  r.CreditCard.ExpiryYear,
			CCV:         r.CreditCard.CCV,
		}
	}
	return out
}

type checkoutResponse struct {
	SubscriptionID         string                 `json:"subscriptionId"`
	Status                 string                 `json:"status"`
	BillingMethod          string                 `json:"billingMethod"`
	PaymentID              string                 `json:"paymentId,omitempty"`
	PreviousSubscriptionID string                 `json:"previousSubscriptionId,omitempty"`
	Pix                    *paymentdomain.PixCode `json:"pix,omitempty"`
	Boleto                 *paymentdomain.Boleto  `json:"boleto,omitempty"`
}

func newCheckoutResponse(resp reconciledomain.CheckoutResponse) checkoutResponse {
	out := checkoutResponse{
		SubscriptionID: resp.Subscription.ID,
		Status:         string(resp.Subscription.Status),
		BillingMethod:  string(resp.Subscription.BillingMethod),
		PaymentID:      resp.PaymentID,
		Pix:            resp.Pix,
		Boleto:         resp.Boleto,
	}
	if resp.Previous != nil {
		out.PreviousSubscriptionID = resp.Previous.ID
	}
	return out
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

func (s *Server) Checkout(c *gin.Context) {
	req, ok := bindCheckout(c)
	if !ok {
		return
	}

	resp, err := s.reconcileSvc.Checkout(c.Request.Context(), req.toDomain(c.ClientIP()))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newCheckoutResponse(resp)})
}

func (s *Server) Reactivate(c *gin.Context) {
	req, ok := bindCheckout(c)
	if !ok {
		return
	}

	resp, err := s.reconcileSvc.Reactivate(c.Request.Context(), req.toDomain(c.ClientIP()))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newCheckoutResponse(resp)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		if err := validate.Struct(req); err != nil {
			AbortWithError(c, toValidationErrors(err))
			return
		}
	}

	sub, err := s.reconcileSvc.Cancel(c.Request.Context(), reconciledomain.CancelRequest{
		SubscriptionID: strings.TrimSpace(c.Param("subscription_id")),
		Reason:         req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":     sub.ID,
		"status": sub.Status,
	}})
}

func (s *Server) RegeneratePix(c *gin.Context) {
	pix, err := s.reconcileSvc.RegeneratePix(c.Request.Context(), strings.TrimSpace(c.Param("subscription_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pix})
}

func (s *Server) ListSubscriptionEvents(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.events.ListBySubscription(c.Request.Context(), c.Param("subscription_id"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func bindCheckout(c *gin.Context) (checkoutRequest, bool) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		AbortWithError(c, toValidationErrors(err))
		return req, false
	}
	return req, true
}

func toValidationErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "checkoutRequest.")
		field = strings.TrimPrefix(field, "cancelRequest.")
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    fe.Tag(),
			Message: "invalid value",
		})
	}
	return out
}
