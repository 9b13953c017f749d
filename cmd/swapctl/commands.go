package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/klingon-exchange/swapcore/internal/backend"
	"github.com/klingon-exchange/swapcore/internal/bitcoin"
	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/internal/elements"
	"github.com/klingon-exchange/swapcore/internal/evm"
	"github.com/klingon-exchange/swapcore/internal/musig"
	"github.com/klingon-exchange/swapcore/internal/preimage"
	"github.com/klingon-exchange/swapcore/internal/taptree"
	"github.com/klingon-exchange/swapcore/pkg/helpers"
)

var errUsage = errors.New("invalid arguments")

// runTree prints the hashes and keys of a swap tree. With the two MuSig2
// keys it also prints the output key and address.
func runTree(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	var (
		symbol    = fs.String("symbol", "BTC", "Chain symbol (BTC, L-BTC)")
		serverKey = fs.String("server-key", "", "Server public key (hex, 33 bytes)")
		userKey   = fs.String("user-key", "", "User public key (hex, 33 bytes)")
		blinding  = fs.String("blinding-key", "", "Blinding public key for a confidential Liquid address")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: tree takes one file", errUsage)
	}

	sym, err := chain.ParseSymbol(*symbol)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	tree, err := taptree.ParseTree(data)
	if err != nil {
		return err
	}

	h := taptree.ForSymbol(sym)
	for i, leaf := range tree.Leaves() {
		hash := h.LeafHash(leaf)
		fmt.Fprintf(a.out, "leaf %d: version=%#x hash=%x\n", i, leaf.Version, hash[:])
	}
	root := tree.MerkleRoot(h)
	fmt.Fprintf(a.out, "merkle root: %x\n", root[:])

	if claim, err := tree.ClaimPubKey(); err == nil {
		fmt.Fprintf(a.out, "claim key: %x\n", schnorr.SerializePubKey(claim))
	}
	if refund, err := tree.RefundPubKey(); err == nil {
		fmt.Fprintf(a.out, "refund key: %x\n", schnorr.SerializePubKey(refund))
	}

	if *serverKey == "" && *userKey == "" {
		return nil
	}
	server, err := parsePubKey(*serverKey)
	if err != nil {
		return fmt.Errorf("server key: %w", err)
	}
	user, err := parsePubKey(*userKey)
	if err != nil {
		return fmt.Errorf("user key: %w", err)
	}
	internal, err := musig.InternalKey(server, user)
	if err != nil {
		return err
	}
	output := tree.OutputKey(h, internal)
	fmt.Fprintf(a.out, "internal key: %x\n", schnorr.SerializePubKey(internal))
	fmt.Fprintf(a.out, "output key: %x\n", schnorr.SerializePubKey(output))

	addr, err := outputAddress(sym, a.cfg.Network, output, *blinding)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "address: %s\n", addr)
	return nil
}

func outputAddress(sym chain.Symbol, network chain.Network, output *btcec.PublicKey, blinding string) (string, error) {
	if !sym.IsLiquid() {
		params, err := chain.BitcoinParams(network)
		if err != nil {
			return "", err
		}
		return taptree.BitcoinAddress(output, params)
	}

	net, err := chain.LiquidParams(network)
	if err != nil {
		return "", err
	}
	var blindingKey *btcec.PublicKey
	if blinding != "" {
		if blindingKey, err = parsePubKey(blinding); err != nil {
			return "", fmt.Errorf("blinding key: %w", err)
		}
	}
	return taptree.LiquidAddress(output, net, blindingKey)
}

// runPreimage fetches a transaction and prints the preimages its inputs
// reveal. With -vout it waits for that output of txid to be spent instead.
func runPreimage(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("preimage", flag.ContinueOnError)
	var (
		hashHex  = fs.String("hash", "", "Preimage hash (SHA256 or HASH160, hex) to match")
		vout     = fs.Int("vout", -1, "Watch this output of txid for a spend")
		interval = fs.Duration("interval", preimage.DefaultPollInterval, "Poll interval with -vout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: preimage takes a symbol and a txid", errUsage)
	}
	sym, err := chain.ParseSymbol(fs.Arg(0))
	if err != nil {
		return err
	}
	txID := fs.Arg(1)

	var hash []byte
	if *hashHex != "" {
		if hash, err = helpers.HexToBytes(*hashHex); err != nil {
			return fmt.Errorf("hash: %w", err)
		}
	}

	b, err := a.backend(sym)
	if err != nil {
		return err
	}

	if *vout >= 0 {
		if hash == nil {
			return fmt.Errorf("%w: -vout requires -hash", errUsage)
		}
		w := preimage.NewWatcher(b, sym,
			preimage.WithPollInterval(*interval),
			preimage.WithLogger(a.log.Component("preimage")))
		reveal, err := w.Wait(ctx, txID, uint32(*vout), hash)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s:%d %x\n", reveal.TxID, reveal.InputIndex, reveal.Preimage[:])
		return nil
	}

	raw, err := b.GetRawTransaction(ctx, txID)
	if err != nil {
		return err
	}
	found, err := scanPreimages(sym, raw, hash)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("no preimage in %s", txID)
	}
	for _, f := range found {
		fmt.Fprintf(a.out, "input %d: %x\n", f.index, f.preimage)
	}
	return nil
}

type foundPreimage struct {
	index    int
	preimage []byte
}

// scanPreimages returns the preimages revealed by every input of raw. A
// non-empty hash keeps only matching ones.
func scanPreimages(sym chain.Symbol, raw []byte, hash []byte) ([]foundPreimage, error) {
	var (
		n    int
		from func(int) ([32]byte, bool)
	)
	if sym.IsLiquid() {
		tx, err := elements.DeserializeTx(hex.EncodeToString(raw))
		if err != nil {
			return nil, err
		}
		n = len(tx.Inputs)
		from = func(i int) ([32]byte, bool) { return preimage.FromElementsTx(tx, i) }
	} else {
		tx, err := bitcoin.DeserializeTx(hex.EncodeToString(raw))
		if err != nil {
			return nil, err
		}
		n = len(tx.TxIn)
		from = func(i int) ([32]byte, bool) { return preimage.FromBitcoinTx(tx, i) }
	}

	var found []foundPreimage
	for i := 0; i < n; i++ {
		p, ok := from(i)
		if !ok || (len(hash) > 0 && !preimage.Matches(p, hash)) {
			continue
		}
		found = append(found, foundPreimage{index: i, preimage: p[:]})
	}
	return found, nil
}

// runCommitHash prints the EIP-712 digest of a Commit authorization. The
// domain comes from the evm config section, or from the contract over
// rpc_url when no version is pinned.
func runCommitHash(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("commit-hash", flag.ContinueOnError)
	var (
		erc20        = fs.Bool("erc20", false, "Use the ERC20Swap contract")
		preimageHash = fs.String("preimage-hash", "", "SHA256 preimage hash (hex)")
		amount       = fs.String("amount", "", "Amount, in the smallest unit unless -decimals is set")
		decimals     = fs.Uint("decimals", 0, "Decimals of -amount (18 for ether)")
		token        = fs.String("token", "", "Token address (ERC20Swap only)")
		claim        = fs.String("claim", "", "Claim address")
		refund       = fs.String("refund", "", "Refund address that signs the commit")
		timelock     = fs.Uint64("timelock", 0, "Timelock block height")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	kind := evm.EtherSwap
	if *erc20 {
		kind = evm.ERC20Swap
	}
	domain, err := a.domain(ctx, kind)
	if err != nil {
		return err
	}

	ph, err := helpers.HexTo32(*preimageHash)
	if err != nil {
		return fmt.Errorf("preimage hash: %w", err)
	}
	if *decimals > 255 {
		return fmt.Errorf("%w: decimals %d", errUsage, *decimals)
	}
	value, err := helpers.ParseAmount(*amount, uint8(*decimals))
	if err != nil {
		return fmt.Errorf("%w: amount: %v", errUsage, err)
	}
	claimAddr, err := parseAddress(*claim)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	refundAddr, err := parseAddress(*refund)
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}

	v := evm.CommitValues{
		PreimageHash: ph,
		Amount:       value,
		ClaimAddress: claimAddr,
		Timelock:     new(big.Int).SetUint64(*timelock),
	}
	if *token != "" {
		tokenAddr, err := parseAddress(*token)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		v.TokenAddress = &tokenAddr
	}

	digest, err := evm.CommitHash(domain, v, refundAddr)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, digest.Hex())
	return nil
}

// runBlocks prints block heights from the websocket of a chain's backend
// until interrupted.
func runBlocks(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: blocks takes a symbol", errUsage)
	}
	sym, err := chain.ParseSymbol(args[0])
	if err != nil {
		return err
	}
	cfg, ok := a.cfg.BackendConfigs()[sym]
	if !ok || cfg.WebsocketURL == "" {
		return fmt.Errorf("%w: no websocket for %s", backend.ErrNoBackend, sym)
	}

	heights, err := backend.NewBlockWatcher(cfg.WebsocketURL, a.log.Component("blocks")).Subscribe(ctx)
	if err != nil {
		return err
	}
	for height := range heights {
		fmt.Fprintf(a.out, "%s %d\n", time.Now().Format(time.RFC3339), height)
	}
	return ctx.Err()
}

func (a *app) backend(sym chain.Symbol) (backend.Backend, error) {
	registry, err := backend.NewRegistryFromConfigs(a.cfg.BackendConfigs(), a.log.Component("backend"))
	if err != nil {
		return nil, err
	}
	return registry.Get(sym)
}

func (a *app) domain(ctx context.Context, kind evm.ContractKind) (*evm.Domain, error) {
	if a.cfg.EVM.ContractVersion != 0 || a.cfg.EVM.RPCURL == "" {
		return a.cfg.EVM.Domain(kind)
	}

	contract, err := a.cfg.EVM.Contract(kind)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, a.cfg.EVM.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", a.cfg.EVM.RPCURL, err)
	}
	defer client.Close()

	domain, err := evm.FetchDomain(ctx, client, kind, contract)
	if err != nil {
		return nil, err
	}
	a.log.Debug("Fetched contract domain", "contract", contract.Hex(), "version", domain.Version, "chain_id", domain.ChainID)
	return domain, nil
}

func parsePubKey(s string) (*btcec.PublicKey, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: not an address: %q", errUsage, s)
	}
	return common.HexToAddress(s), nil
}
