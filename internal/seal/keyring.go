package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/adamavenir/murmur/internal/types"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Algorithm names the payload cipher in types.Sealed.
const Algorithm = "xchacha20poly1305"

const hkdfInfo = "murmur/conversation/v1"

// ConversationLookup resolves a conversation's participants. It must not
// block on the engine loop.
type ConversationLookup func(conversationID string) (types.Conversation, error)

// Keyring seals and opens messages for one signed-in user.
type Keyring struct {
	self    *Identity
	keysDir string
	lookup  ConversationLookup

	mu   sync.Mutex
	keys map[string]conversationKey
}

type conversationKey struct {
	id  string
	key []byte
}

// NewKeyring creates a keyring. Peer public keys are read from keysDir.
func NewKeyring(self *Identity, keysDir string, lookup ConversationLookup) *Keyring {
	return &Keyring{
		self:    self,
		keysDir: keysDir,
		lookup:  lookup,
		keys:    make(map[string]conversationKey),
	}
}

type plaintext struct {
	Type types.MessageKind `json:"type"`
	Body json.RawMessage   `json:"body"`
}

// Seal encrypts msg.Body. The result carries a cleared body of the same kind.
func (k *Keyring) Seal(msg types.Message) (types.Message, error) {
	if msg.Body == nil {
		return types.Message{}, &types.ValidationError{Field: "body", Reason: "nothing to seal"}
	}
	ck, err := k.conversationKey(msg.ConversationID)
	if err != nil {
		return types.Message{}, err
	}
	raw, err := json.Marshal(msg.Body)
	if err != nil {
		return types.Message{}, err
	}
	data, err := json.Marshal(plaintext{Type: msg.Body.Kind(), Body: raw})
	if err != nil {
		return types.Message{}, err
	}
	aead, err := chacha20poly1305.NewX(ck.key)
	if err != nil {
		return types.Message{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return types.Message{}, fmt.Errorf("generate nonce: %w", err)
	}
	out := msg
	out.Sealed = &types.Sealed{
		Alg:        Algorithm,
		KeyID:      ck.id,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, data, []byte(msg.ConversationID))),
	}
	out.Body = types.Cleared(msg.Body)
	return out, nil
}

// Open decrypts a sealed message into its body.
func (k *Keyring) Open(msg types.Message) (types.Message, error) {
	if msg.Sealed == nil {
		return msg, nil
	}
	if msg.Sealed.Alg != Algorithm {
		return types.Message{}, fmt.Errorf("unsupported algorithm %q", msg.Sealed.Alg)
	}
	ck, err := k.conversationKey(msg.ConversationID)
	if err != nil {
		return types.Message{}, err
	}
	if msg.Sealed.KeyID != ck.id {
		return types.Message{}, fmt.Errorf("message sealed with unknown key %s", msg.Sealed.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(msg.Sealed.Nonce)
	if err != nil {
		return types.Message{}, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(msg.Sealed.Ciphertext)
	if err != nil {
		return types.Message{}, fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(ck.key)
	if err != nil {
		return types.Message{}, err
	}
	data, err := aead.Open(nil, nonce, ciphertext, []byte(msg.ConversationID))
	if err != nil {
		return types.Message{}, fmt.Errorf("decrypt: %w", err)
	}
	var pt plaintext
	if err := json.Unmarshal(data, &pt); err != nil {
		return types.Message{}, fmt.Errorf("decode plaintext: %w", err)
	}
	body, err := types.DecodeBody(pt.Type, pt.Body)
	if err != nil {
		return types.Message{}, err
	}
	out := msg
	out.Body = body
	out.Sealed = nil
	return out, nil
}

func (k *Keyring) conversationKey(conversationID string) (conversationKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if ck, ok := k.keys[conversationID]; ok {
		return ck, nil
	}
	conv, err := k.lookup(conversationID)
	if err != nil {
		return conversationKey{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	if !conv.Has(k.self.UserID) {
		return conversationKey{}, &types.PermissionError{MessageID: conversationID, UserID: k.self.UserID}
	}
	peer := conv.Peer(k.self.UserID)
	peerPub, err := LoadPublic(k.keysDir, peer)
	if err != nil {
		return conversationKey{}, err
	}
	key, err := deriveKey(k.self.private, peerPub, k.self.UserID, peer)
	if err != nil {
		return conversationKey{}, err
	}
	ck := conversationKey{id: Fingerprint(key), key: key}
	k.keys[conversationID] = ck
	return ck, nil
}

func deriveKey(private, peerPublic []byte, a, b string) ([]byte, error) {
	secret, err := curve25519.X25519(private, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	ids := []string{a, b}
	sort.Strings(ids)
	salt := sha256.Sum256([]byte(ids[0] + "\x00" + ids[1]))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt[:], []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}
