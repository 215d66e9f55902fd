// Package bip322 builds the canonical to_spend/to_sign virtual transaction
// pair for BIP-322 full signatures and computes the sighashes a verifier
// needs. The transactions are never broadcast; they only exist so a wallet
// can reuse its transaction-signing code path to sign a message.
package bip322

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitgate/gatekeeper/lib/codec"
	"github.com/bitgate/gatekeeper/lib/msghash"
)

// BuildToSpend constructs the zero-value transaction that commits to the
// message: version 0, a single input over the all-zero outpoint with
// scriptSig `OP_0 <tagged message hash>`, and one output paying the
// claimed scriptPubKey.
func BuildToSpend(msg string, scriptPubKey []byte) (*wire.MsgTx, error) {
	tagHash := msghash.BIP322Message(msg)
	scriptSig, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(tagHash[:]).
		Script()
	if err != nil {
		return nil, fmt.Errorf("build to_spend scriptSig: %v", err)
	}

	tx := wire.NewMsgTx(0)
	txIn := wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), scriptSig, nil)
	txIn.Sequence = 0
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(0, scriptPubKey))
	return tx, nil
}

// BuildToSign constructs the transaction the wallet actually signed: it
// spends to_spend's only output and burns it to a bare OP_RETURN.
func BuildToSign(toSpend *wire.MsgTx) *wire.MsgTx {
	txid := toSpend.TxHash()

	tx := wire.NewMsgTx(0)
	txIn := wire.NewTxIn(wire.NewOutPoint(&txid, 0), nil, nil)
	txIn.Sequence = 0
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	return tx
}

// LegacySighash computes the pre-segwit SIGHASH_ALL digest of to_sign with
// the spent scriptPubKey substituted into the empty scriptSig.
func LegacySighash(toSign *wire.MsgTx, scriptPubKey []byte) ([32]byte, error) {
	var digest [32]byte

	tx := toSign.Copy()
	tx.TxIn[0].SignatureScript = scriptPubKey

	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		return digest, fmt.Errorf("serialize to_sign: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(txscript.SigHashAll)); err != nil {
		return digest, fmt.Errorf("append sighash type: %v", err)
	}

	copy(digest[:], chainhash.DoubleHashB(buf.Bytes()))
	return digest, nil
}

// WitnessV0Sighash computes the BIP-143 SIGHASH_ALL digest of to_sign for
// a pubkey-hash witness program. The scriptCode is the implicit
// `DUP HASH160 <pkh> EQUALVERIFY CHECKSIG` and the spent amount is zero.
func WitnessV0Sighash(toSign *wire.MsgTx, pubKeyHash []byte) ([32]byte, error) {
	var digest [32]byte
	if len(pubKeyHash) != 20 {
		return digest, fmt.Errorf("witness sighash: pubkey hash is %d bytes", len(pubKeyHash))
	}

	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return digest, fmt.Errorf("build scriptCode: %v", err)
	}

	var prevouts bytes.Buffer
	var sequences bytes.Buffer
	for _, in := range toSign.TxIn {
		prevouts.Write(in.PreviousOutPoint.Hash[:])
		binary.Write(&prevouts, binary.LittleEndian, in.PreviousOutPoint.Index)
		binary.Write(&sequences, binary.LittleEndian, in.Sequence)
	}

	var outputs bytes.Buffer
	for _, out := range toSign.TxOut {
		binary.Write(&outputs, binary.LittleEndian, uint64(out.Value))
		outputs.Write(codec.EncodeVarInt(uint64(len(out.PkScript))))
		outputs.Write(out.PkScript)
	}

	var preimage bytes.Buffer
	binary.Write(&preimage, binary.LittleEndian, uint32(toSign.Version))
	preimage.Write(chainhash.DoubleHashB(prevouts.Bytes()))
	preimage.Write(chainhash.DoubleHashB(sequences.Bytes()))
	preimage.Write(toSign.TxIn[0].PreviousOutPoint.Hash[:])
	binary.Write(&preimage, binary.LittleEndian, toSign.TxIn[0].PreviousOutPoint.Index)
	preimage.Write(codec.EncodeVarInt(uint64(len(scriptCode))))
	preimage.Write(scriptCode)
	binary.Write(&preimage, binary.LittleEndian, uint64(0)) // amount
	binary.Write(&preimage, binary.LittleEndian, toSign.TxIn[0].Sequence)
	preimage.Write(chainhash.DoubleHashB(outputs.Bytes()))
	binary.Write(&preimage, binary.LittleEndian, toSign.LockTime)
	binary.Write(&preimage, binary.LittleEndian, uint32(txscript.SigHashAll))

	copy(digest[:], chainhash.DoubleHashB(preimage.Bytes()))
	return digest, nil
}
