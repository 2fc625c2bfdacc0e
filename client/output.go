package client

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidOutput = errors.New("invalid client output")

// OutputError is returned when client output cannot be parsed. Output
// holds the raw text.
type OutputError struct {
	Expected string
	Output   string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%s: expected %s", ErrInvalidOutput, e.Expected)
}

func (e *OutputError) Unwrap() error {
	return ErrInvalidOutput
}

var (
	operationHashRe = regexp.MustCompile(`Operation hash is '?(\w*)`)
	branchRe        = regexp.MustCompile(`--branch ?(\w*)`)
	contractRe      = regexp.MustCompile(`New contract ?(\w*) originated`)
	injectedBlockRe = regexp.MustCompile(`Injected block ?(\w*)`)
	injectedRe      = regexp.MustCompile(`Injected ?(\w*)`)
	foundInBlockRe  = regexp.MustCompile(`Operation found in block: ?(\w*) `)
	storageRe       = regexp.MustCompile(`(?m)^storage\n\s*(.*)`)
	signatureRe     = regexp.MustCompile(`Signature: ?(\w*)\n`)
	firstWordRe     = regexp.MustCompile(`(\w*)`)
	hashDataRe      = regexp.MustCompile(`Raw packed data: ?(0x[0-9a-f]*)
Script-expression-ID-Hash: ?(\w*)
Raw Script-expression-ID-Hash: ?(\w*)
Ledger Blake2b hash: ?(\w*)
Raw Sha256 hash: ?(\w*)
Raw Sha512 hash: ?(\w*)
Gas remaining: ?(\w*)`)
)

func match(re *regexp.Regexp, output, expected string) ([]string, error) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return nil, &OutputError{Expected: expected, Output: output}
	}
	return m[1:], nil
}

// OperationResult is the outcome of an injected manager operation.
type OperationResult struct {
	OperationHash string
	Branch        string
}

func ParseOperation(output string) (*OperationResult, error) {
	op, err := match(operationHashRe, output, "operation hash")
	if err != nil {
		return nil, err
	}
	branch, err := match(branchRe, output, "branch")
	if err != nil {
		return nil, err
	}
	return &OperationResult{OperationHash: op[0], Branch: branch[0]}, nil
}

// ParseOperationHash extracts only the operation hash, for commands that
// do not print a branch.
func ParseOperationHash(output string) (string, error) {
	m, err := match(operationHashRe, output, "operation hash")
	if err != nil {
		return "", err
	}
	return m[0], nil
}

type OriginationResult struct {
	Contract      string
	OperationHash string
}

func ParseOrigination(output string) (*OriginationResult, error) {
	contract, err := match(contractRe, output, "originated contract")
	if err != nil {
		return nil, err
	}
	op, err := match(operationHashRe, output, "operation hash")
	if err != nil {
		return nil, err
	}
	return &OriginationResult{Contract: contract[0], OperationHash: op[0]}, nil
}

// BlockResult carries the hash of a block produced or found by a command.
type BlockResult struct {
	BlockHash string
}

func ParseBake(output string) (*BlockResult, error) {
	m, err := match(injectedBlockRe, output, "injected block")
	if err != nil {
		return nil, err
	}
	return &BlockResult{BlockHash: m[0]}, nil
}

func ParseActivation(output string) (*BlockResult, error) {
	m, err := match(injectedRe, output, "injected block")
	if err != nil {
		return nil, err
	}
	return &BlockResult{BlockHash: m[0]}, nil
}

func ParseInclusion(output string) (*BlockResult, error) {
	m, err := match(foundInBlockRe, output, "including block")
	if err != nil {
		return nil, err
	}
	return &BlockResult{BlockHash: m[0]}, nil
}

// ReceiptResult is the outcome of a receipt lookup. Found is false when
// the client could not find the operation.
type ReceiptResult struct {
	Found     bool
	BlockHash string
}

func ParseReceipt(output string) (*ReceiptResult, error) {
	if strings.TrimSpace(output) == "Couldn't find operation" {
		return &ReceiptResult{}, nil
	}
	m, err := match(foundInBlockRe, output, "including block")
	if err != nil {
		return nil, err
	}
	return &ReceiptResult{Found: true, BlockHash: m[0]}, nil
}

type RunScriptResult struct {
	Storage string
	Output  string
}

func ParseRunScript(output string) (*RunScriptResult, error) {
	m, err := match(storageRe, output, "storage")
	if err != nil {
		return nil, err
	}
	return &RunScriptResult{Storage: strings.TrimSpace(m[0]), Output: output}, nil
}

type HashResult struct {
	Packed  string
	Hash    string
	RawHash string
	Blake2b string
	Sha256  string
	Sha512  string
}

func ParseHash(output string) (*HashResult, error) {
	m, err := match(hashDataRe, output, "hash data block")
	if err != nil {
		return nil, err
	}
	return &HashResult{
		Packed:  m[0],
		Hash:    m[1],
		RawHash: m[2],
		Blake2b: m[3],
		Sha256:  m[4],
		Sha512:  m[5],
	}, nil
}

func ParseSignature(output string) (string, error) {
	m, err := match(signatureRe, output, "signature")
	if err != nil {
		return "", err
	}
	return m[0], nil
}

// ParseDelegate returns the first word of "get delegate" output.
func ParseDelegate(output string) (string, error) {
	m, err := match(firstWordRe, strings.TrimSpace(output), "delegate")
	if err != nil {
		return "", err
	}
	return m[0], nil
}

// ExtractBalance parses "<amount> ꜩ" into tez.
func ExtractBalance(output string) (float64, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0, &OutputError{Expected: "balance", Output: output}
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, &OutputError{Expected: "balance", Output: output}
	}
	return v, nil
}

// ExtractProtocols splits "list protocols" output into protocol hashes.
func ExtractProtocols(output string) []string {
	return strings.Fields(output)
}
