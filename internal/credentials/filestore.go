package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/fileutils"
	"github.com/ubuntu/oauth-flows/internal/stringutils"
)

const (
	credentialFile          = "credential.json"
	encryptedCredentialFile = "credential.json.enc"
)

// FileBackend stores each credential as a file under <dataDir>/<provider>/<workspace>.
type FileBackend struct {
	dataDir string
	codec   codec
}

// NewFileBackend returns a backend writing under dataDir.
// Credentials are encrypted at rest when passphrase is not empty.
func NewFileBackend(dataDir, passphrase string) *FileBackend {
	return &FileBackend{dataDir: dataDir, codec: codec{passphrase: []byte(passphrase)}}
}

func (b *FileBackend) path(workspaceID, provider string) (string, error) {
	if !stringutils.IsPathComponent(provider) {
		return "", fmt.Errorf("invalid provider %q", provider)
	}
	if !stringutils.IsPathComponent(workspaceID) {
		return "", fmt.Errorf("invalid workspace id %q", workspaceID)
	}

	name := credentialFile
	if len(b.codec.passphrase) > 0 {
		name = encryptedCredentialFile
	}
	return filepath.Join(b.dataDir, provider, workspaceID, name), nil
}

// Save writes the credential atomically with owner-only permissions.
func (b *FileBackend) Save(_ context.Context, c Credential) (err error) {
	defer decorate.OnError(&err, "can't write credential file")

	p, err := b.path(c.WorkspaceID, c.Provider)
	if err != nil {
		return err
	}

	data, err := b.codec.marshal(c)
	if err != nil {
		return err
	}

	return fileutils.WriteFileAtomic(p, data, 0600)
}

// Load reads the credential file of workspaceID for provider.
func (b *FileBackend) Load(_ context.Context, workspaceID, provider string) (c Credential, err error) {
	p, err := b.path(workspaceID, provider)
	if err != nil {
		return Credential{}, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Credential{}, fmt.Errorf("%w for provider %q in workspace %q", ErrNoCredential, provider, workspaceID)
	}
	if err != nil {
		return Credential{}, err
	}

	return b.codec.unmarshal(data)
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
