// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

package types

import "github.com/katana-sequencer/katana/katanalib/common"

// EncodeForStorage serializes h with the same flat encBuf codec transaction.go
// uses, for storage in the Headers table.
func (h Header) EncodeForStorage() []byte {
	var e encBuf
	e.felt(h.ParentHash.Felt)
	e.u64(h.Number)
	e.u64(h.Timestamp)
	e.felt(h.SequencerAddr.Felt)
	e.u64(h.L1GasPrices.Wei)
	e.u64(h.L1GasPrices.Native)
	e.felt(h.StateRoot)
	e.felt(h.TransactionsRoot)
	e.felt(h.EventsRoot)
	e.felt(h.ReceiptsRoot)
	e.string(h.ProtocolVersion)
	return e.b
}

// DecodeHeaderForStorage is the inverse of Header.EncodeForStorage.
func DecodeHeaderForStorage(b []byte) (Header, error) {
	d := newDec(b)
	var h Header
	var err error
	if h.ParentHash.Felt, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.Number, err = d.u64(); err != nil {
		return Header{}, err
	}
	if h.Timestamp, err = d.u64(); err != nil {
		return Header{}, err
	}
	if h.SequencerAddr.Felt, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.L1GasPrices.Wei, err = d.u64(); err != nil {
		return Header{}, err
	}
	if h.L1GasPrices.Native, err = d.u64(); err != nil {
		return Header{}, err
	}
	if h.StateRoot, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.TransactionsRoot, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.EventsRoot, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.ReceiptsRoot, err = d.felt(); err != nil {
		return Header{}, err
	}
	if h.ProtocolVersion, err = d.string(); err != nil {
		return Header{}, err
	}
	if err := d.done(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// EncodeForStorage serializes a ContractInfo table value.
func (c ContractInfo) EncodeForStorage() []byte {
	var e encBuf
	e.felt(c.ClassHash.Felt)
	e.u64(c.Nonce)
	return e.b
}

// DecodeContractInfoForStorage is the inverse of ContractInfo.EncodeForStorage.
func DecodeContractInfoForStorage(b []byte) (ContractInfo, error) {
	d := newDec(b)
	var c ContractInfo
	var err error
	if c.ClassHash.Felt, err = d.felt(); err != nil {
		return ContractInfo{}, err
	}
	if c.Nonce, err = d.u64(); err != nil {
		return ContractInfo{}, err
	}
	return c, d.done()
}

func encodeFeltSlice(e *encBuf, elems []common.Felt) {
	e.u32(uint32(len(elems)))
	for _, f := range elems {
		e.felt(f)
	}
}

func decodeFeltSlice(d *dec) ([]common.Felt, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]common.Felt, n)
	for i := range out {
		if out[i], err = d.felt(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeEvent(e *encBuf, ev Event) {
	e.felt(ev.FromAddress.Felt)
	encodeFeltSlice(e, ev.Keys)
	encodeFeltSlice(e, ev.Data)
}

func decodeEvent(d *dec) (Event, error) {
	var ev Event
	var err error
	if ev.FromAddress.Felt, err = d.felt(); err != nil {
		return Event{}, err
	}
	if ev.Keys, err = decodeFeltSlice(d); err != nil {
		return Event{}, err
	}
	if ev.Data, err = decodeFeltSlice(d); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func encodeEvents(e *encBuf, evs []Event) {
	e.u32(uint32(len(evs)))
	for _, ev := range evs {
		encodeEvent(e, ev)
	}
}

func decodeEvents(d *dec) ([]Event, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Event, n)
	for i := range out {
		if out[i], err = decodeEvent(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeMessage(e *encBuf, m L2ToL1Message) {
	e.felt(m.FromAddress.Felt)
	e.felt(m.ToAddress)
	encodeFeltSlice(e, m.Payload)
}

func decodeMessage(d *dec) (L2ToL1Message, error) {
	var m L2ToL1Message
	var err error
	if m.FromAddress.Felt, err = d.felt(); err != nil {
		return L2ToL1Message{}, err
	}
	if m.ToAddress, err = d.felt(); err != nil {
		return L2ToL1Message{}, err
	}
	if m.Payload, err = decodeFeltSlice(d); err != nil {
		return L2ToL1Message{}, err
	}
	return m, nil
}

func encodeMessages(e *encBuf, msgs []L2ToL1Message) {
	e.u32(uint32(len(msgs)))
	for _, m := range msgs {
		encodeMessage(e, m)
	}
}

func decodeMessages(d *dec) ([]L2ToL1Message, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]L2ToL1Message, n)
	for i := range out {
		if out[i], err = decodeMessage(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeForStorage serializes r for the Receipts table.
func (r Receipt) EncodeForStorage() []byte {
	var e encBuf
	e.byte(byte(r.Status))
	e.string(r.RevertReason)
	e.u64(r.ActualFee)
	e.string(r.FeeUnit)
	encodeEvents(&e, r.Events)
	encodeMessages(&e, r.Messages)
	e.u64(r.Resources.L1GasUsed)
	e.u64(r.Resources.L1DataGasUsed)
	e.u64(r.Resources.CairoSteps)
	return e.b
}

// DecodeReceiptForStorage is the inverse of Receipt.EncodeForStorage.
func DecodeReceiptForStorage(b []byte) (Receipt, error) {
	d := newDec(b)
	var r Receipt
	status, err := d.byte()
	if err != nil {
		return Receipt{}, err
	}
	r.Status = ExecutionStatus(status)
	if r.RevertReason, err = d.string(); err != nil {
		return Receipt{}, err
	}
	if r.ActualFee, err = d.u64(); err != nil {
		return Receipt{}, err
	}
	if r.FeeUnit, err = d.string(); err != nil {
		return Receipt{}, err
	}
	if r.Events, err = decodeEvents(d); err != nil {
		return Receipt{}, err
	}
	if r.Messages, err = decodeMessages(d); err != nil {
		return Receipt{}, err
	}
	if r.Resources.L1GasUsed, err = d.u64(); err != nil {
		return Receipt{}, err
	}
	if r.Resources.L1DataGasUsed, err = d.u64(); err != nil {
		return Receipt{}, err
	}
	if r.Resources.CairoSteps, err = d.u64(); err != nil {
		return Receipt{}, err
	}
	return r, d.done()
}

func encodeStorageKeys(e *encBuf, keys []common.StorageKey) {
	e.u32(uint32(len(keys)))
	for _, k := range keys {
		e.felt(k.Felt)
	}
}

func decodeStorageKeys(d *dec) ([]common.StorageKey, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]common.StorageKey, n)
	for i := range out {
		f, err := d.felt()
		if err != nil {
			return nil, err
		}
		out[i] = common.StorageKeyFromFelt(f)
	}
	return out, nil
}

func encodeStorageEntries(e *encBuf, entries []StorageEntry) {
	e.u32(uint32(len(entries)))
	for _, se := range entries {
		e.felt(se.Key.Felt)
		e.felt(se.Value)
	}
}

func decodeStorageEntries(d *dec) ([]StorageEntry, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]StorageEntry, n)
	for i := range out {
		k, err := d.felt()
		if err != nil {
			return nil, err
		}
		v, err := d.felt()
		if err != nil {
			return nil, err
		}
		out[i] = StorageEntry{Key: common.StorageKeyFromFelt(k), Value: v}
	}
	return out, nil
}

func encodeCallInfo(e *encBuf, c *CallInfo) {
	if c == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.felt(c.ContractAddress.Felt)
	e.felt(c.Selector.Felt)
	encodeFeltSlice(e, c.Calldata)
	encodeFeltSlice(e, c.Result)
	encodeEvents(e, c.Events)
	encodeMessages(e, c.Messages)
	encodeStorageKeys(e, c.StorageReads)
	encodeStorageEntries(e, c.StorageWrites)
	e.u32(uint32(len(c.Children)))
	for i := range c.Children {
		encodeCallInfo(e, &c.Children[i])
	}
}

func decodeCallInfo(d *dec) (*CallInfo, error) {
	present, err := d.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	c := &CallInfo{}
	if c.ContractAddress.Felt, err = d.felt(); err != nil {
		return nil, err
	}
	if c.Selector.Felt, err = d.felt(); err != nil {
		return nil, err
	}
	if c.Calldata, err = decodeFeltSlice(d); err != nil {
		return nil, err
	}
	if c.Result, err = decodeFeltSlice(d); err != nil {
		return nil, err
	}
	if c.Events, err = decodeEvents(d); err != nil {
		return nil, err
	}
	if c.Messages, err = decodeMessages(d); err != nil {
		return nil, err
	}
	if c.StorageReads, err = decodeStorageKeys(d); err != nil {
		return nil, err
	}
	if c.StorageWrites, err = decodeStorageEntries(d); err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	c.Children = make([]CallInfo, n)
	for i := range c.Children {
		child, err := decodeCallInfo(d)
		if err != nil {
			return nil, err
		}
		if child != nil {
			c.Children[i] = *child
		}
	}
	return c, nil
}

// EncodeForStorage serializes t for the Traces table.
func (t TxExecInfo) EncodeForStorage() []byte {
	var e encBuf
	encodeCallInfo(&e, t.ValidateInvocation)
	encodeCallInfo(&e, t.ExecuteInvocation)
	encodeCallInfo(&e, t.FeeTransferInvocation)
	return e.b
}

// DecodeTxExecInfoForStorage is the inverse of TxExecInfo.EncodeForStorage.
func DecodeTxExecInfoForStorage(b []byte) (TxExecInfo, error) {
	d := newDec(b)
	var t TxExecInfo
	var err error
	if t.ValidateInvocation, err = decodeCallInfo(d); err != nil {
		return TxExecInfo{}, err
	}
	if t.ExecuteInvocation, err = decodeCallInfo(d); err != nil {
		return TxExecInfo{}, err
	}
	if t.FeeTransferInvocation, err = decodeCallInfo(d); err != nil {
		return TxExecInfo{}, err
	}
	return t, d.done()
}

func encodeEntryPoints(e *encBuf, eps []EntryPoint) {
	e.u32(uint32(len(eps)))
	for _, ep := range eps {
		e.felt(ep.Selector.Felt)
		e.u64(ep.Offset)
	}
}

func decodeEntryPoints(d *dec) ([]EntryPoint, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]EntryPoint, n)
	for i := range out {
		f, err := d.felt()
		if err != nil {
			return nil, err
		}
		off, err := d.u64()
		if err != nil {
			return nil, err
		}
		out[i] = EntryPoint{Selector: common.SelectorFromFelt(f), Offset: off}
	}
	return out, nil
}

func encodeEntryPointSet(e *encBuf, eps EntryPoints) {
	encodeEntryPoints(e, eps.Constructor)
	encodeEntryPoints(e, eps.External)
	encodeEntryPoints(e, eps.L1Handler)
}

func decodeEntryPointSet(d *dec) (EntryPoints, error) {
	var eps EntryPoints
	var err error
	if eps.Constructor, err = decodeEntryPoints(d); err != nil {
		return EntryPoints{}, err
	}
	if eps.External, err = decodeEntryPoints(d); err != nil {
		return EntryPoints{}, err
	}
	if eps.L1Handler, err = decodeEntryPoints(d); err != nil {
		return EntryPoints{}, err
	}
	return eps, nil
}

// EncodeForStorage serializes c for the Classes table.
func (c ContractClass) EncodeForStorage() []byte {
	var e encBuf
	e.byte(byte(c.Kind))
	e.bytes(c.Program)
	encodeFeltSlice(&e, c.SierraProgram)
	e.string(c.ABI)
	e.string(c.ContractClassVersion)
	encodeEntryPointSet(&e, c.EntryPoints)
	return e.b
}

// DecodeContractClassForStorage is the inverse of ContractClass.EncodeForStorage.
func DecodeContractClassForStorage(b []byte) (ContractClass, error) {
	d := newDec(b)
	var c ContractClass
	kind, err := d.byte()
	if err != nil {
		return ContractClass{}, err
	}
	c.Kind = ClassKind(kind)
	if c.Program, err = d.bytes(); err != nil {
		return ContractClass{}, err
	}
	if c.SierraProgram, err = decodeFeltSlice(d); err != nil {
		return ContractClass{}, err
	}
	if c.ABI, err = d.string(); err != nil {
		return ContractClass{}, err
	}
	if c.ContractClassVersion, err = d.string(); err != nil {
		return ContractClass{}, err
	}
	if c.EntryPoints, err = decodeEntryPointSet(d); err != nil {
		return ContractClass{}, err
	}
	return c, d.done()
}

// EncodeForStorage serializes c for the CompiledClasses table.
func (c CasmClass) EncodeForStorage() []byte {
	var e encBuf
	encodeFeltSlice(&e, c.Bytecode)
	encodeEntryPointSet(&e, c.EntryPoints)
	e.string(c.CompilerVersion)
	return e.b
}

// DecodeCasmClassForStorage is the inverse of CasmClass.EncodeForStorage.
func DecodeCasmClassForStorage(b []byte) (CasmClass, error) {
	d := newDec(b)
	var c CasmClass
	var err error
	if c.Bytecode, err = decodeFeltSlice(d); err != nil {
		return CasmClass{}, err
	}
	if c.EntryPoints, err = decodeEntryPointSet(d); err != nil {
		return CasmClass{}, err
	}
	if c.CompilerVersion, err = d.string(); err != nil {
		return CasmClass{}, err
	}
	return c, d.done()
}

// EncodeForStorage serializes m standalone for the L2L1Messages table, so
// an outbound message can be looked up without decoding its whole receipt.
func (m L2ToL1Message) EncodeForStorage() []byte {
	var e encBuf
	encodeMessage(&e, m)
	return e.b
}

// DecodeL2ToL1MessageForStorage is the inverse of
// L2ToL1Message.EncodeForStorage.
func DecodeL2ToL1MessageForStorage(b []byte) (L2ToL1Message, error) {
	d := newDec(b)
	m, err := decodeMessage(d)
	if err != nil {
		return L2ToL1Message{}, err
	}
	return m, d.done()
}

// EncodeForStorage serializes m for the L1Messages table, keyed
// externally by the message's hash (supplemented from original_source/,
// see DESIGN.md).
func (m L1Message) EncodeForStorage() []byte {
	var e encBuf
	e.felt(m.FromAddress)
	e.felt(m.ToAddress.Felt)
	e.felt(m.Selector.Felt)
	encodeFeltSlice(&e, m.Payload)
	e.u64(m.Nonce)
	e.u64(m.L1BlockNumber)
	return e.b
}

// DecodeL1MessageForStorage is the inverse of L1Message.EncodeForStorage.
func DecodeL1MessageForStorage(b []byte) (L1Message, error) {
	d := newDec(b)
	var m L1Message
	var err error
	if m.FromAddress, err = d.felt(); err != nil {
		return L1Message{}, err
	}
	if m.ToAddress.Felt, err = d.felt(); err != nil {
		return L1Message{}, err
	}
	if m.Selector.Felt, err = d.felt(); err != nil {
		return L1Message{}, err
	}
	if m.Payload, err = decodeFeltSlice(d); err != nil {
		return L1Message{}, err
	}
	if m.Nonce, err = d.u64(); err != nil {
		return L1Message{}, err
	}
	if m.L1BlockNumber, err = d.u64(); err != nil {
		return L1Message{}, err
	}
	return m, d.done()
}
