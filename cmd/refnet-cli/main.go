package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"refnet/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("REFNET_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "address":
		keyFile := "wallet.key"
		if len(args) > 1 {
			keyFile = args[1]
		}
		printAddress(keyFile)
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		currency := ""
		if len(args) > 2 {
			currency = args[2]
		}
		getBalance(args[1], currency)
	case "tokens":
		getTokenList()
	case "events":
		cursor := ""
		if len(args) > 1 {
			cursor = args[1]
		}
		getEvents(cursor)
	case "referral":
		code := runReferralCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Owner commands derive your caller address from it.")
}

func printAddress(keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}
	fmt.Println(privKey.PubKey().Address().String())
}

func getBalance(addr, currency string) {
	param := map[string]string{"address": addr}
	if strings.TrimSpace(currency) != "" {
		param["currency"] = currency
	}
	result, rpcErr, err := callRPC("refnet_getBalance", param, false)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}

	var balance struct {
		Address  string `json:"address"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	if err := json.Unmarshal(result, &balance); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}
	fmt.Printf("Balance for: %s\n", balance.Address)
	fmt.Printf("  %s: %s\n", balance.Currency, balance.Amount)
}

func getTokenList() {
	result, rpcErr, err := callRPC("refnet_getTokenList", nil, false)
	if err != nil {
		fmt.Printf("Error fetching token list: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	printJSONResult(result)
}

func getEvents(cursor string) {
	var param map[string]string
	trimmed := strings.TrimSpace(cursor)
	if trimmed != "" {
		if _, err := strconv.ParseUint(trimmed, 10, 64); err != nil {
			fmt.Println("Error: cursor must be a non-negative integer.")
			return
		}
		param = map[string]string{"cursor": trimmed}
	}
	result, rpcErr, err := callRPC("refnet_getEvents", param, false)
	if err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	if rpcErr != nil {
		fmt.Printf("Error from node: %s\n", rpcErr.Message)
		return
	}
	printJSONResult(result)
}

// --- RPC HELPER FUNCTIONS ---

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"id":     1,
		"method": method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires REFNET_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run ./refnet-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty. run ./refnet-cli generate-key first", path)
	}
	privKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return privKey, nil
}

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if len(result) == 0 || result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func printUsage() {
	fmt.Println("Usage: refnet-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Owner commands derive the caller address from a locally generated key. Run")
	fmt.Println("./refnet-cli generate-key first, or pass --caller explicitly.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key              - Generates a new key and saves to wallet.key")
	fmt.Println("  address [key_file]        - Prints the bech32 address for a key file")
	fmt.Println("  balance <address> [token] - Checks an account balance (RNET by default)")
	fmt.Println("  tokens                    - Lists registered reward tokens")
	fmt.Println("  events [cursor]           - Fetches settled events after a cursor")
	fmt.Println("  referral                  - Campaign and claim subcommands")
}
