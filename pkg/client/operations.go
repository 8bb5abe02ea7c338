package client

import (
	"context"
	"net/http"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/cache"
	"github.com/BerjisTech/kra-connect-go/pkg/transport"
	"github.com/BerjisTech/kra-connect-go/pkg/validate"
	"golang.org/x/sync/errgroup"
)

// Cache key prefixes.
const (
	PrefixPIN      = "pin"
	PrefixTCC      = "tcc"
	PrefixTaxpayer = "taxpayer"
)

// TaxpayerDetailsTTL is how long taxpayer records stay cached.
const TaxpayerDetailsTTL = 30 * time.Minute

// VerifyPIN checks that a KRA PIN is valid and returns the taxpayer's
// registration details. Results are cached.
func (c *Client) VerifyPIN(ctx context.Context, pin string) (*PINVerification, error) {
	pin, err := validate.PIN(pin)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("pin", validate.MaskPIN(pin)).Msg("Verifying PIN")

	return execute(ctx, c, operation[*PINVerification]{
		name: "verify_pin",
		request: transport.Request{
			Method: http.MethodPost,
			Path:   "/verify-pin",
			Body:   map[string]string{"pin": pin},
		},
		cacheKey: cache.Key{Prefix: PrefixPIN, Params: map[string]any{"pin_number": pin}}.String(),
		decode: func(resp *transport.Response) (*PINVerification, error) {
			var p pinPayload
			if err := resp.Decode(&p); err != nil {
				return nil, err
			}
			return &PINVerification{
				PINNumber:        pin,
				IsValid:          p.Valid,
				TaxpayerName:     p.TaxpayerName,
				Status:           p.Status,
				RegistrationDate: p.RegistrationDate,
				BusinessType:     p.BusinessType,
				PostalAddress:    p.PostalAddress,
				PhysicalAddress:  p.PhysicalAddress,
				Email:            p.Email,
				PhoneNumber:      p.PhoneNumber,
				VerifiedAt:       c.clock.Now(),
			}, nil
		},
	})
}

// VerifyTCC checks a tax compliance certificate. Results are cached.
func (c *Client) VerifyTCC(ctx context.Context, tcc string) (*TCCVerification, error) {
	tcc, err := validate.TCC(tcc)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("tcc", tcc).Msg("Verifying TCC")

	return execute(ctx, c, operation[*TCCVerification]{
		name: "verify_tcc",
		request: transport.Request{
			Method: http.MethodPost,
			Path:   "/verify-tcc",
			Body:   map[string]string{"tcc": tcc},
		},
		cacheKey: cache.Key{Prefix: PrefixTCC, Params: map[string]any{"tcc_number": tcc}}.String(),
		decode: func(resp *transport.Response) (*TCCVerification, error) {
			var p tccPayload
			if err := resp.Decode(&p); err != nil {
				return nil, err
			}
			return &TCCVerification{
				TCCNumber:       tcc,
				IsValid:         p.Valid,
				PINNumber:       p.PINNumber,
				TaxpayerName:    p.TaxpayerName,
				IssueDate:       p.IssueDate,
				ExpiryDate:      p.ExpiryDate,
				CertificateType: p.CertificateType,
				Status:          p.Status,
				VerifiedAt:      c.clock.Now(),
			}, nil
		},
	})
}

// GetTaxpayerDetails retrieves the full taxpayer record. Results are
// cached for TaxpayerDetailsTTL.
func (c *Client) GetTaxpayerDetails(ctx context.Context, pin string) (*TaxpayerDetails, error) {
	pin, err := validate.PIN(pin)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("pin", validate.MaskPIN(pin)).Msg("Retrieving taxpayer details")

	return execute(ctx, c, operation[*TaxpayerDetails]{
		name: "get_taxpayer_details",
		request: transport.Request{
			Method: http.MethodGet,
			Path:   "/taxpayer-details/" + pin,
		},
		cacheKey: cache.Key{Prefix: PrefixTaxpayer, Params: map[string]any{"pin_number": pin}}.String(),
		ttl:      TaxpayerDetailsTTL,
		decode: func(resp *transport.Response) (*TaxpayerDetails, error) {
			var d TaxpayerDetails
			if err := resp.Decode(&d); err != nil {
				return nil, err
			}
			if d.PINNumber == "" {
				d.PINNumber = pin
			}
			if d.TaxObligations == nil {
				d.TaxObligations = []TaxObligation{}
			}
			if d.LastUpdated.IsZero() {
				d.LastUpdated = c.clock.Now()
			}
			return &d, nil
		},
	})
}

// ValidateEslip checks an electronic payment slip. Results are not cached.
func (c *Client) ValidateEslip(ctx context.Context, slip string) (*EslipValidation, error) {
	slip, err := validate.EslipNumber(slip)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("slip_number", slip).Msg("Validating e-slip")

	return execute(ctx, c, operation[*EslipValidation]{
		name: "validate_eslip",
		request: transport.Request{
			Method: http.MethodPost,
			Path:   "/validate-eslip",
			Body:   map[string]string{"slip_number": slip},
		},
		decode: func(resp *transport.Response) (*EslipValidation, error) {
			var p eslipPayload
			if err := resp.Decode(&p); err != nil {
				return nil, err
			}
			return &EslipValidation{
				SlipNumber:       slip,
				IsValid:          p.Valid,
				PINNumber:        p.PINNumber,
				Amount:           p.Amount,
				PaymentDate:      p.PaymentDate,
				PaymentReference: p.PaymentReference,
				ObligationType:   p.ObligationType,
				TaxPeriod:        p.TaxPeriod,
				Status:           p.Status,
				ValidatedAt:      c.clock.Now(),
			}, nil
		},
	})
}

// FileNilReturn files a NIL return for pin, period (YYYYMM) and
// obligation. Filing is never cached.
func (c *Client) FileNilReturn(ctx context.Context, pin, period, obligationID string) (*NilReturn, error) {
	pin, err := validate.PIN(pin)
	if err != nil {
		return nil, err
	}
	period, err = validate.Period(period)
	if err != nil {
		return nil, err
	}
	obligationID, err = validate.ObligationID(obligationID)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("pin", validate.MaskPIN(pin)).
		Str("period", period).
		Msg("Filing NIL return")

	return execute(ctx, c, operation[*NilReturn]{
		name: "file_nil_return",
		request: transport.Request{
			Method: http.MethodPost,
			Path:   "/file-nil-return",
			Body: map[string]string{
				"pin":           pin,
				"period":        period,
				"obligation_id": obligationID,
			},
		},
		decode: func(resp *transport.Response) (*NilReturn, error) {
			var p nilReturnPayload
			if err := resp.Decode(&p); err != nil {
				return nil, err
			}
			return &NilReturn{
				PINNumber:              pin,
				Period:                 period,
				ObligationID:           obligationID,
				SubmissionReference:    p.SubmissionReference,
				SubmissionDate:         p.SubmissionDate,
				IsSuccessful:           p.Success,
				AcknowledgementReceipt: p.AcknowledgementReceipt,
			}, nil
		},
	})
}

// VerifyPINsBatch verifies pins concurrently, at most MaxConcurrency at a
// time. Results are returned in input order; a PIN that fails yields a
// result with IsValid false and ErrorMessage set rather than failing the
// batch. Only cancellation of ctx returns an error.
func (c *Client) VerifyPINsBatch(ctx context.Context, pins []string) ([]*PINVerification, error) {
	c.logger.Info().Int("count", len(pins)).Msg("Batch verifying PINs")

	results := make([]*PINVerification, len(pins))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for i, pin := range pins {
		g.Go(func() error {
			result, err := c.VerifyPIN(gctx, pin)
			if err != nil {
				c.logger.Warn().Err(err).Str("pin", validate.MaskPIN(pin)).Msg("Error verifying PIN")
				result = &PINVerification{
					PINNumber:    pin,
					IsValid:      false,
					ErrorMessage: err.Error(),
					VerifiedAt:   c.clock.Now(),
				}
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.logger.Info().Int("count", len(results)).Msg("Batch verification completed")
	return results, nil
}
