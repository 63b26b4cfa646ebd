package domain

import "context"

type Repository interface {
	ListDocumentTypes(ctx context.Context) ([]DocumentType, error)
	ListAddressTypes(ctx context.Context) ([]AddressType, error)
}
