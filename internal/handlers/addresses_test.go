package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

func TestAddressHandlersCreate(t *testing.T) {
	service := &stubAddressService{
		createFunc: func(ctx context.Context, cmd services.CreateAddressCommand) (services.Address, error) {
			if cmd.UserID != "user-1" || !cmd.IsPrimary || cmd.Address.PostalCode != "100-0001" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.Address{
				ID:         "addr_1",
				UserID:     cmd.UserID,
				Recipient:  cmd.Address.Recipient,
				Line1:      cmd.Address.Line1,
				City:       cmd.Address.City,
				PostalCode: cmd.Address.PostalCode,
				Country:    cmd.Address.Country,
				IsPrimary:  true,
				CreatedAt:  fixedTime(),
			}, nil
		},
	}

	body := `{"recipient":"Taro","line1":"1-1 Chiyoda","city":"Tokyo","postalCode":"100-0001","country":"JP","isPrimary":true}`
	rr := serve("/addresses", NewAddressHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"}, http.MethodPost, "/addresses", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp addressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Address.ID != "addr_1" || !resp.Address.IsPrimary {
		t.Fatalf("unexpected address %+v", resp.Address)
	}
}

func TestAddressHandlersList(t *testing.T) {
	service := &stubAddressService{
		listFunc: func(ctx context.Context, userID string) ([]services.Address, error) {
			return []services.Address{
				{ID: "addr_1", UserID: userID, IsPrimary: true},
				{ID: "addr_2", UserID: userID},
			}, nil
		},
	}
	rr := serve("/addresses", NewAddressHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"}, http.MethodGet, "/addresses", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp addressListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 || !resp.Items[0].IsPrimary || resp.Items[1].IsPrimary {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestAddressHandlersSetPrimary(t *testing.T) {
	var gotAddress, gotUser string
	service := &stubAddressService{
		setPrimaryFunc: func(ctx context.Context, addressID, userID string) (services.Address, error) {
			gotAddress, gotUser = addressID, userID
			return services.Address{ID: addressID, UserID: userID, IsPrimary: true}, nil
		},
	}
	rr := serve("/addresses", NewAddressHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"}, http.MethodPost, "/addresses/addr_2/set-primary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotAddress != "addr_2" || gotUser != "user-1" {
		t.Fatalf("unexpected call %s/%s", gotAddress, gotUser)
	}
}

func TestAddressHandlersSetPrimaryNotFound(t *testing.T) {
	service := &stubAddressService{
		setPrimaryFunc: func(context.Context, string, string) (services.Address, error) {
			return services.Address{}, services.ErrAddressNotFound
		},
	}
	rr := serve("/addresses", NewAddressHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"}, http.MethodPost, "/addresses/addr_x/set-primary", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAddressHandlersUpdateAndDelete(t *testing.T) {
	var updated, deleted string
	service := &stubAddressService{
		updateFunc: func(ctx context.Context, cmd services.UpdateAddressCommand) (services.Address, error) {
			updated = cmd.AddressID + ":" + cmd.Address.City
			return services.Address{ID: cmd.AddressID, City: cmd.Address.City}, nil
		},
		deleteFunc: func(ctx context.Context, userID, addressID string) error {
			deleted = addressID
			return nil
		},
	}
	handler := NewAddressHandlers(nil, service)

	if rr := serve("/addresses", handler.Routes, &auth.Identity{UID: "user-1"}, http.MethodPut, "/addresses/addr_1", `{"city":"Osaka"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr := serve("/addresses", handler.Routes, &auth.Identity{UID: "user-1"}, http.MethodDelete, "/addresses/addr_1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if updated != "addr_1:Osaka" || deleted != "addr_1" {
		t.Fatalf("unexpected calls updated=%q deleted=%q", updated, deleted)
	}
}

func TestAddressHandlersUnauthenticated(t *testing.T) {
	rr := serve("/addresses", NewAddressHandlers(nil, &stubAddressService{}).Routes, nil, http.MethodGet, "/addresses", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
