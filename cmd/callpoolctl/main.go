// Command callpoolctl manages operator keys and signs API requests for the
// call pool server.
//
// Usage:
//
//	callpoolctl encrypt-key -out key.json          (reads the hex key and password from env)
//	callpoolctl address -key key.json
//	callpoolctl call -key key.json -url http://localhost:8000 POST /api/pools/0x.../deposit '{"token_id":1}'
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/NFTCall-xyz/nftcall-core/internal/crypto"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/middleware"
)

const usage = `usage: callpoolctl <encrypt-key|address|call> [flags]

environment:
  CALLPOOL_PRIVATE_KEY   hex private key (encrypt-key, or instead of -key)
  CALLPOOL_KEY_PASSWORD  key file password
  CALLPOOL_API_KEY       sent as X-API-Key by call
`

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encrypt-key":
		err = encryptKey(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "call":
		err = call(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "callpoolctl: %v\n", err)
		os.Exit(1)
	}
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "key.json", "where to write the encrypted key file")
	_ = fs.Parse(args)

	raw := os.Getenv("CALLPOOL_PRIVATE_KEY")
	if raw == "" {
		return errors.New("CALLPOOL_PRIVATE_KEY is not set")
	}
	data, err := crypto.EncryptKey(raw, os.Getenv("CALLPOOL_KEY_PASSWORD"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Println("wrote", *out)
	return nil
}

func loadSigner(keyPath string, chainID int64) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    os.Getenv("CALLPOOL_PRIVATE_KEY"),
		EncryptedKeyPath: keyPath,
		KeyPassword:      os.Getenv("CALLPOOL_KEY_PASSWORD"),
	})
	if err != nil {
		return nil, err
	}
	signing := crypto.DefaultDomain
	signing.ChainID = chainID
	return crypto.NewSigner(key, signing), nil
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keyPath := fs.String("key", "", "encrypted key file")
	_ = fs.Parse(args)

	signer, err := loadSigner(*keyPath, crypto.DefaultDomain.ChainID)
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

// call signs METHOD PATH [BODY] and sends it to the server.
func call(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	keyPath := fs.String("key", "", "encrypted key file")
	baseURL := fs.String("url", "http://localhost:8000", "server base URL")
	chainID := fs.Int64("chain-id", crypto.DefaultDomain.ChainID, "EIP-712 domain chain id")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		return errors.New("call needs METHOD PATH [BODY]")
	}
	method, path := strings.ToUpper(rest[0]), rest[1]
	var body []byte
	if len(rest) > 2 {
		body = []byte(rest[2])
	}

	signer, err := loadSigner(*keyPath, *chainID)
	if err != nil {
		return err
	}
	req := crypto.Request{
		Method:    method,
		Path:      strings.SplitN(path, "?", 2)[0],
		Body:      body,
		Timestamp: time.Now().Unix(),
		Nonce:     uuid.NewString(),
	}
	sig, err := signer.SignRequest(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(method, strings.TrimRight(*baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(middleware.HeaderCaller, signer.Address().Hex())
	httpReq.Header.Set(middleware.HeaderSignature, sig)
	httpReq.Header.Set(middleware.HeaderTimestamp, fmt.Sprint(req.Timestamp))
	httpReq.Header.Set(middleware.HeaderNonce, req.Nonce)
	if key := os.Getenv("CALLPOOL_API_KEY"); key != "" {
		httpReq.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", resp.Status, out)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server answered %d", resp.StatusCode)
	}
	return nil
}
