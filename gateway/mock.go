package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agrimart/apperr"
)

// Mock is a deterministic in-process gateway for development and tests.
// Verify echoes what Initialize was given unless a verification is scripted.
type Mock struct {
	mu            sync.Mutex
	initialized   map[string]InitializeRequest
	verifications map[string]Verification
	transferErrs  []error
	transfers     []TransferRequest
	seq           int

	InitializeErr error
	RecipientErr  error
}

var _ Gateway = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		initialized:   make(map[string]InitializeRequest),
		verifications: make(map[string]Verification),
	}
}

func (m *Mock) Initialize(_ context.Context, req InitializeRequest) (InitializeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InitializeErr != nil {
		return InitializeResult{}, m.InitializeErr
	}
	m.initialized[req.Reference] = req
	return InitializeResult{
		AuthorizationURL: "https://checkout.mock.local/" + req.Reference,
		AccessCode:       "mock_" + req.Reference,
		Reference:        req.Reference,
		Raw:              []byte(`{"status":true,"message":"mock"}`),
	}, nil
}

// SetVerification scripts the next Verify answers for a reference.
func (m *Mock) SetVerification(reference string, v Verification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[reference] = v
}

func (m *Mock) Verify(_ context.Context, reference string) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.verifications[reference]; ok {
		return v, nil
	}
	req, ok := m.initialized[reference]
	if !ok {
		return Verification{}, apperr.External("gateway_error", fmt.Errorf("unknown reference %s", reference))
	}
	amount := req.AmountMinor
	meta := req.Metadata
	return Verification{
		Status:    "success",
		Reference: reference,
		Amount:    &amount,
		Currency:  req.Currency,
		Metadata:  &meta,
		Raw:       []byte(`{"status":true,"data":{"status":"success"}}`),
	}, nil
}

func (m *Mock) CreateRecipient(_ context.Context, req RecipientRequest) (string, error) {
	if m.RecipientErr != nil {
		return "", m.RecipientErr
	}
	if req.AccountNumber == "" || req.BankCode == "" {
		return "", apperr.External("gateway_rejected", errors.New("invalid account"))
	}
	return "RCP_" + req.BankCode + "_" + req.AccountNumber, nil
}

// FailTransfers makes the next len(errs) transfers return those errors in order.
func (m *Mock) FailTransfers(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferErrs = append(m.transferErrs, errs...)
}

func (m *Mock) Transfer(_ context.Context, req TransferRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, req)
	if len(m.transferErrs) > 0 {
		err := m.transferErrs[0]
		m.transferErrs = m.transferErrs[1:]
		return "", err
	}
	m.seq++
	return fmt.Sprintf("TRF_mock_%d", m.seq), nil
}

// Transfers returns every transfer attempted so far.
func (m *Mock) Transfers() []TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransferRequest(nil), m.transfers...)
}
