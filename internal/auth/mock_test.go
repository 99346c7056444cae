package auth

import (
	"context"
	"sync"
	"time"

	"crmbridge/internal/storage"
)

// fakeCredentialStore is an in-memory CredentialStore for tests.
type fakeCredentialStore struct {
	mu     sync.Mutex
	cred   *storage.Credential
	nextID int64

	replaceErr error
	updateErr  error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{}
}

func (f *fakeCredentialStore) Replace(ctx context.Context, accessToken, refreshToken, instanceURL string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return 0, f.replaceErr
	}
	f.nextID++
	f.cred = &storage.Credential{
		ID:           f.nextID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		InstanceURL:  instanceURL,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	return f.nextID, nil
}

func (f *fakeCredentialStore) Current(ctx context.Context) (*storage.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return nil, storage.ErrNoCredential
	}
	copy := *f.cred
	return &copy, nil
}

func (f *fakeCredentialStore) UpdateAccessToken(ctx context.Context, id int64, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.cred == nil || f.cred.ID != id {
		return storage.ErrNoCredential
	}
	f.cred.AccessToken = accessToken
	f.cred.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCredentialStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = nil
	return nil
}

func (f *fakeCredentialStore) Exists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred != nil, nil
}
