package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ashmitkumar2005/rivault/internal/config"
	"github.com/ashmitkumar2005/rivault/internal/rvcrypto"
	"github.com/spf13/cobra"
)

// apiClient is a thin HTTP client for the dispatcher's JSON surface. Every
// client-style verb below does its own encryption/decryption with
// internal/rvcrypto before or after talking to the server — the server
// itself never holds a plaintext byte or a password.
type apiClient struct {
	baseURL string
	userID  string
	http    *http.Client
}

func newAPIClient(cfg config.Client) (*apiClient, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("RIVAULT_USER is not set (or pass --user)")
	}
	return &apiClient{
		baseURL: cfg.APIURL,
		userID:  cfg.User,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) (*http.Response, error) {
	var reader io.Reader
	contentType := "application/json"
	if raw, ok := body.(rawBody); ok {
		reader = bytes.NewReader(raw)
		contentType = "application/octet-stream"
	} else if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-Id", c.userID)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var e struct{ Error, Kind string }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp, fmt.Errorf("%s %s: %s (%s)", method, path, e.Error, e.Kind)
	}
	if out != nil {
		defer resp.Body.Close()
		return resp, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp, nil
}

// nodeWire mirrors pkg/types.Node field-for-field. types.Node carries no
// JSON tags, so it marshals with its capitalized Go field names; nodeWire
// matches that shape for responses. The one exception is Encryption on the
// way up: /files accepts a createFileRequest with snake_case tags (see
// encryptionInfoWire in internal/dispatcher/handlers.go), so outgoing
// upload requests build that shape inline rather than through this type.
type nodeWire struct {
	ID             string                `json:"ID"`
	ParentID       string                `json:"ParentID"`
	Kind           string                `json:"Kind"`
	Name           string                `json:"Name"`
	QuotaBytes     int64                 `json:"QuotaBytes"`
	UsageBytes     int64                 `json:"UsageBytes"`
	Locked         bool                  `json:"Locked"`
	SizeBytes      int64                 `json:"SizeBytes"`
	ChunkSizeBytes int64                 `json:"ChunkSizeBytes"`
	MimeType       string                `json:"MimeType"`
	Chunks         []chunkRefWire        `json:"Chunks"`
	Encryption     *encryptionInfoResult `json:"Encryption"`
}

type chunkRefWire struct {
	Order          int    `json:"Order"`
	BlobRef        string `json:"BlobRef"`
	CiphertextSize int64  `json:"CiphertextSize"`
}

// encryptionInfoResult mirrors types.EncryptionInfo as it comes back on a
// GET response (capitalized field names, no tags).
type encryptionInfoResult struct {
	WrappedDataKey   []byte `json:"WrappedDataKey"`
	WrapNonce        []byte `json:"WrapNonce"`
	MasterKeySalt    []byte `json:"MasterKeySalt"`
	PBKDF2Iterations int    `json:"PBKDF2Iterations"`
}

// uploadEncryptionInfo is the snake_case shape internal/dispatcher expects
// in a POST /files body's "encryption" field.
type uploadEncryptionInfo struct {
	WrappedDataKey   []byte `json:"wrapped_data_key"`
	WrapNonce        []byte `json:"wrap_nonce"`
	MasterKeySalt    []byte `json:"master_key_salt"`
	PBKDF2Iterations int    `json:"pbkdf2_iterations"`
}

func clientFromCmd(cmd *cobra.Command) (*apiClient, error) {
	cfg := config.ClientFromEnv()
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		cfg.User = u
	}
	if url, _ := cmd.Flags().GetString("api-url"); url != "" {
		cfg.APIURL = url
	}
	return newAPIClient(cfg)
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "User ID (defaults to $RIVAULT_USER)")
	cmd.Flags().String("api-url", "", "Dispatcher base URL (defaults to $API_URL)")
	cmd.Flags().String("password", "", "Passphrase for client-side encryption (defaults to $RIVAULT_PASSWORD)")
}

func passwordFromCmd(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	if p := os.Getenv("RIVAULT_PASSWORD"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no passphrase: pass --password or set RIVAULT_PASSWORD")
}

var lsCmd = &cobra.Command{
	Use:   "ls [parent-id]",
	Short: "List a folder or drive's children (defaults to listing drives)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		var children []nodeWire
		if len(args) == 0 {
			_, err = c.do(http.MethodGet, "/drives", nil, &children)
		} else {
			_, err = c.do(http.MethodGet, "/folders/"+args[0], nil, &children)
		}
		if err != nil {
			return err
		}
		for _, n := range children {
			lockMark := " "
			if n.Locked {
				lockMark = "L"
			}
			fmt.Printf("%s %-8s %-36s %s\n", lockMark, n.Kind, n.ID, n.Name)
		}
		return nil
	},
}

var mkdriveCmd = &cobra.Command{
	Use:   "mkdrive LETTER",
	Short: "Create a new drive (LETTER is a single A-Z identifier)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt64("size")
		var drive nodeWire
		if _, err := c.do(http.MethodPost, "/drives", map[string]interface{}{
			"letter": args[0], "size": size,
		}, &drive); err != nil {
			return err
		}
		fmt.Printf("created drive %s (%s)\n", drive.Name, drive.ID)
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PARENT-ID NAME",
	Short: "Create a folder under PARENT-ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		var folder nodeWire
		if _, err := c.do(http.MethodPost, "/folders", map[string]interface{}{
			"parent_id": args[0], "name": args[1],
		}, &folder); err != nil {
			return err
		}
		fmt.Printf("created folder %s (%s)\n", folder.Name, folder.ID)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm NODE-ID",
	Short: "Delete a node and everything beneath it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		if _, err := c.do(http.MethodDelete, "/nodes/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename NODE-ID NEW-NAME",
	Short: "Rename a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		var n nodeWire
		if _, err := c.do(http.MethodPost, "/nodes/"+args[0]+"/rename", map[string]string{"name": args[1]}, &n); err != nil {
			return err
		}
		fmt.Printf("renamed to %s\n", n.Name)
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv NODE-ID NEW-PARENT-ID",
	Short: "Move a node to a new parent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		var n nodeWire
		if _, err := c.do(http.MethodPost, "/nodes/"+args[0]+"/move", map[string]string{"parent_id": args[1]}, &n); err != nil {
			return err
		}
		fmt.Printf("moved to %s\n", n.ParentID)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload PARENT-ID LOCAL-FILE",
	Short: "Encrypt and upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		password, err := passwordFromCmd(cmd)
		if err != nil {
			return err
		}
		chunkSize, _ := cmd.Flags().GetInt64("chunk-size")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[1])
		}

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}

		salt, err := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
		if err != nil {
			return err
		}
		masterKey := rvcrypto.DeriveMasterKey(password, salt, rvcrypto.DefaultPBKDF2Iterations)
		dataKey, err := rvcrypto.GenerateDataKey()
		if err != nil {
			return err
		}
		wrapped, nonce, err := rvcrypto.WrapDataKey(masterKey, dataKey)
		if err != nil {
			return err
		}

		var file nodeWire
		if _, err := c.do(http.MethodPost, "/files", map[string]interface{}{
			"parent_id":        args[0],
			"name":             name,
			"size_bytes":       fi.Size(),
			"chunk_size_bytes": chunkSize,
			"mime_type":        "application/octet-stream",
			"encryption": uploadEncryptionInfo{
				WrappedDataKey:   wrapped,
				WrapNonce:        nonce,
				MasterKeySalt:    salt,
				PBKDF2Iterations: rvcrypto.DefaultPBKDF2Iterations,
			},
		}, &file); err != nil {
			return err
		}

		buf := make([]byte, chunkSize)
		for order := 0; ; order++ {
			n, readErr := io.ReadFull(f, buf)
			if n > 0 {
				wire, err := rvcrypto.EncodeChunk(dataKey, buf[:n])
				if err != nil {
					return err
				}
				if _, err := c.do(http.MethodPost,
					fmt.Sprintf("/files/%s/chunks?order=%d", file.ID, order),
					rawBody(wire), nil); err != nil {
					return err
				}
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				return readErr
			}
		}

		fmt.Printf("uploaded %s as %s (%s)\n", args[1], file.Name, file.ID)
		return nil
	},
}

// rawBody marks a []byte as an opaque request body the client should send
// verbatim instead of JSON-marshaling, since chunk uploads are raw
// ciphertext, not a JSON document.
type rawBody []byte

var downloadCmd = &cobra.Command{
	Use:   "download FILE-ID OUTPUT-PATH",
	Short: "Download and decrypt a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromCmd(cmd)
		if err != nil {
			return err
		}
		password, err := passwordFromCmd(cmd)
		if err != nil {
			return err
		}
		lockKey, _ := cmd.Flags().GetString("lock-key")

		var file nodeWire
		if _, err := c.do(http.MethodGet, "/files/"+args[0], nil, &file); err != nil {
			return err
		}
		if file.Encryption == nil {
			return fmt.Errorf("file %s has no encryption metadata", args[0])
		}

		masterKey := rvcrypto.DeriveMasterKey(password, file.Encryption.MasterKeySalt, file.Encryption.PBKDF2Iterations)
		dataKey, err := rvcrypto.UnwrapDataKey(masterKey, file.Encryption.WrappedDataKey, file.Encryption.WrapNonce)
		if err != nil {
			return fmt.Errorf("wrong passphrase: %w", err)
		}

		path := fmt.Sprintf("/files/%s/download", args[0])
		if lockKey != "" {
			path += "?lockKey=" + lockKey
		}
		req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-User-Id", c.userID)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("download failed: status %d", resp.StatusCode)
		}

		out, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer out.Close()

		for _, chunk := range file.Chunks {
			wire := make([]byte, chunk.CiphertextSize)
			if _, err := io.ReadFull(resp.Body, wire); err != nil {
				return fmt.Errorf("reading chunk %d: %w", chunk.Order, err)
			}
			plain, err := rvcrypto.DecodeChunk(dataKey, wire)
			if err != nil {
				return fmt.Errorf("decrypting chunk %d: %w", chunk.Order, err)
			}
			if _, err := out.Write(plain); err != nil {
				return err
			}
		}

		fmt.Printf("downloaded %s to %s\n", file.Name, args[1])
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{lsCmd, mkdriveCmd, mkdirCmd, rmCmd, renameCmd, mvCmd, uploadCmd, downloadCmd} {
		addClientFlags(cmd)
	}
	mkdriveCmd.Flags().Int64("size", 0, "Quota in bytes (0 = unlimited)")
	uploadCmd.Flags().Int64("chunk-size", 5<<20, "Plaintext chunk size in bytes")
	uploadCmd.Flags().String("name", "", "Override the stored file name")
	downloadCmd.Flags().String("lock-key", "", "Lock secret or override code, if the file is locked")
}
