package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/docker/libtrust"
	"gopkg.in/yaml.v3"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/auth/store/database"
	"github.com/natter-auth/auth/auth/store/encrypted"
	"github.com/natter-auth/auth/auth/store/introspection"
	"github.com/natter-auth/auth/auth/store/macaroon"
	"github.com/natter-auth/auth/auth/store/memory"
	"github.com/natter-auth/auth/auth/store/session"
	"github.com/natter-auth/auth/auth/store/signed"
	"github.com/natter-auth/auth/pkg/hkdf"
)

// Key derivation labels for stores deriving their keys from a master key file.
const (
	encryptionKeyContext   = "encryption-key"
	macaroonRootKeyContext = "macaroon-root-key"
)

// TokenStore is the configuration for an auth.TokenStore.
type TokenStore struct {
	Type   string `yaml:"type"`
	Config TokenStoreFactory
}

func (c *TokenStore) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	config, err := tokenStoreFactory(rawConfig.Type, rawConfig.Config)
	if err != nil {
		return err
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// TokenStoreFactory creates a new auth.TokenStore.
type TokenStoreFactory interface {
	CreateTokenStore() (auth.TokenStore, error)
	Validate() error
}

func tokenStoreFactory(storeType string, rawConfig map[string]interface{}) (TokenStoreFactory, error) {
	var config TokenStoreFactory

	switch storeType {
	case "memory":
		var factory memoryTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "database":
		var factory databaseTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "session":
		var factory sessionTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "signed":
		var factory signedTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "encrypted":
		var factory encryptedTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "macaroon":
		var factory macaroonTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	case "introspection":
		var factory introspectionTokenStore

		err := decode(rawConfig, &factory)
		if err != nil {
			return nil, err
		}

		config = factory

	default:
		return nil, fmt.Errorf("unknown token store type: %s", storeType)
	}

	return config, nil
}

// rawStore is a nested store config inside a wrapper store's config.
type rawStore struct {
	Type   string                 `mapstructure:"type"`
	Config map[string]interface{} `mapstructure:"config"`
}

func (r rawStore) factory(field string) (TokenStoreFactory, error) {
	if r.Type == "" {
		return nil, fmt.Errorf("%s: store type is required", field)
	}

	return tokenStoreFactory(r.Type, r.Config)
}

// readKey reads a base64 (standard encoding) key file.
func readKey(path string) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(contents)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file %s: %w", path, err)
	}

	return key, nil
}

type memoryTokenStore struct{}

func (c memoryTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	return memory.NewStore(), nil
}

func (c memoryTokenStore) Validate() error {
	return nil
}

type databaseTokenStore struct {
	Path string `mapstructure:"path"`
}

func (c databaseTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	return database.NewStore(c.Path)
}

func (c databaseTokenStore) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("token store: database: path is required")
	}

	return nil
}

type sessionTokenStore struct {
	KeyFiles   []string `mapstructure:"keyFiles"`
	CookieName string   `mapstructure:"cookieName"`
}

func (c sessionTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	keyPairs := make([][]byte, 0, len(c.KeyFiles))

	for _, keyFile := range c.KeyFiles {
		key, err := readKey(keyFile)
		if err != nil {
			return nil, err
		}

		keyPairs = append(keyPairs, key)
	}

	var opts []session.Option

	if c.CookieName != "" {
		opts = append(opts, session.WithCookieName(c.CookieName))
	}

	return session.NewStore(keyPairs, opts...), nil
}

func (c sessionTokenStore) Validate() error {
	if len(c.KeyFiles) == 0 {
		return fmt.Errorf("token store: session: at least one key file is required")
	}

	return nil
}

type signedTokenStore struct {
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`

	PrivateKeyFile string `mapstructure:"privateKeyFile"`
	SecretFile     string `mapstructure:"secretFile"`
	JWKSURL        string `mapstructure:"jwksUrl"`
}

func (c signedTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	switch {
	case c.PrivateKeyFile != "":
		signingKey, err := libtrust.LoadKeyFile(c.PrivateKeyFile)
		if err != nil {
			return nil, err
		}

		return signed.NewStore(c.Issuer, c.Audience, signingKey)

	case c.SecretFile != "":
		secret, err := readKey(c.SecretFile)
		if err != nil {
			return nil, err
		}

		return signed.NewSymmetricStore(c.Issuer, c.Audience, secret), nil

	default:
		return signed.NewVerifier(c.Issuer, c.Audience, signed.NewRemoteKeySet(c.JWKSURL)), nil
	}
}

func (c signedTokenStore) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("token store: signed: issuer is required")
	}

	if c.Audience == "" {
		return fmt.Errorf("token store: signed: audience is required")
	}

	keySources := 0

	for _, source := range []string{c.PrivateKeyFile, c.SecretFile, c.JWKSURL} {
		if source != "" {
			keySources++
		}
	}

	if keySources != 1 {
		return fmt.Errorf("token store: signed: exactly one of privateKeyFile, secretFile and jwksUrl is required")
	}

	return nil
}

type encryptedTokenStore struct {
	Audience string `mapstructure:"audience"`

	KeyFile       string `mapstructure:"keyFile"`
	MasterKeyFile string `mapstructure:"masterKeyFile"`

	AllowList rawStore `mapstructure:"allowList"`
}

func (c encryptedTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}

	allowListFactory, err := c.AllowList.factory("token store: encrypted: allowList")
	if err != nil {
		return nil, err
	}

	allowList, err := allowListFactory.CreateTokenStore()
	if err != nil {
		return nil, err
	}

	return encrypted.NewStore(key, c.Audience, allowList)
}

func (c encryptedTokenStore) key() ([]byte, error) {
	if c.KeyFile != "" {
		return readKey(c.KeyFile)
	}

	masterKey, err := readKey(c.MasterKeyFile)
	if err != nil {
		return nil, err
	}

	return hkdf.Expand(masterKey, encryptionKeyContext, encrypted.KeySize)
}

func (c encryptedTokenStore) Validate() error {
	if c.Audience == "" {
		return fmt.Errorf("token store: encrypted: audience is required")
	}

	if (c.KeyFile == "") == (c.MasterKeyFile == "") {
		return fmt.Errorf("token store: encrypted: exactly one of keyFile and masterKeyFile is required")
	}

	allowListFactory, err := c.AllowList.factory("token store: encrypted: allowList")
	if err != nil {
		return err
	}

	return allowListFactory.Validate()
}

type macaroonTokenStore struct {
	RootKeyFile   string `mapstructure:"rootKeyFile"`
	MasterKeyFile string `mapstructure:"masterKeyFile"`
	Location      string `mapstructure:"location"`

	Store rawStore `mapstructure:"store"`
}

func (c macaroonTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	rootKey, err := c.rootKey()
	if err != nil {
		return nil, err
	}

	innerFactory, err := c.Store.factory("token store: macaroon: store")
	if err != nil {
		return nil, err
	}

	inner, err := innerFactory.CreateTokenStore()
	if err != nil {
		return nil, err
	}

	var opts []macaroon.Option

	if c.Location != "" {
		opts = append(opts, macaroon.WithLocation(c.Location))
	}

	return macaroon.NewStore(rootKey, inner, opts...), nil
}

func (c macaroonTokenStore) rootKey() ([]byte, error) {
	if c.RootKeyFile != "" {
		return readKey(c.RootKeyFile)
	}

	masterKey, err := readKey(c.MasterKeyFile)
	if err != nil {
		return nil, err
	}

	return hkdf.Expand(masterKey, macaroonRootKeyContext, 32)
}

func (c macaroonTokenStore) Validate() error {
	if (c.RootKeyFile == "") == (c.MasterKeyFile == "") {
		return fmt.Errorf("token store: macaroon: exactly one of rootKeyFile and masterKeyFile is required")
	}

	innerFactory, err := c.Store.factory("token store: macaroon: store")
	if err != nil {
		return err
	}

	return innerFactory.Validate()
}

type introspectionTokenStore struct {
	Endpoint     string `mapstructure:"endpoint"`
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
}

func (c introspectionTokenStore) CreateTokenStore() (auth.TokenStore, error) {
	return introspection.NewStore(c.Endpoint, c.ClientID, c.ClientSecret), nil
}

func (c introspectionTokenStore) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("token store: introspection: endpoint is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("token store: introspection: clientId is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("token store: introspection: clientSecret is required")
	}

	return nil
}
