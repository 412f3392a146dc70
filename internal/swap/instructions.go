// internal/swap/instructions.go
package swap

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"splswap/internal/pool"
)

// Swap program instruction discriminators.
const (
	ixInitSwap uint8 = 0
	ixSwap     uint8 = 1
	ixDeposit  uint8 = 2
	ixWithdraw uint8 = 3
)

// Token program instruction discriminators.
const (
	tokenIxInitMint     uint8 = 0
	tokenIxInitAccount  uint8 = 1
	tokenIxTransfer     uint8 = 3
	tokenIxApprove      uint8 = 4
	tokenIxCloseAccount uint8 = 9
)

func putUint64(buf []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], v)
}

// createAccountInstruction funds and allocates a fresh account owned
// by the given program.
func createAccountInstruction(funder, newAccount, owner solana.PublicKey, lamports, space uint64) solana.Instruction {
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[0:4], 0) // CreateAccount
	putUint64(data, 4, lamports)
	putUint64(data, 12, space)
	copy(data[20:52], owner[:])

	return solana.NewInstruction(
		solana.SystemProgramID,
		[]*solana.AccountMeta{
			{PublicKey: funder, IsSigner: true, IsWritable: true},
			{PublicKey: newAccount, IsSigner: true, IsWritable: true},
		},
		data,
	)
}

func initMintInstruction(tokenProgram, mint, authority solana.PublicKey, decimals uint8) solana.Instruction {
	data := make([]byte, 35)
	data[0] = tokenIxInitMint
	data[1] = decimals
	copy(data[2:34], authority[:])
	data[34] = 0 // no freeze authority

	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: mint, IsWritable: true},
			{PublicKey: solana.SysVarRentPubkey},
		},
		data,
	)
}

func initAccountInstruction(tokenProgram, account, mint, owner solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: account, IsWritable: true},
			{PublicKey: mint},
			{PublicKey: owner},
			{PublicKey: solana.SysVarRentPubkey},
		},
		[]byte{tokenIxInitAccount},
	)
}

func transferInstruction(tokenProgram, source, destination, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = tokenIxTransfer
	putUint64(data, 1, amount)

	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		data,
	)
}

// approveInstruction delegates exactly amount from source to the
// pool's authority.
func approveInstruction(tokenProgram, source, delegate, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = tokenIxApprove
	putUint64(data, 1, amount)

	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: delegate},
			{PublicKey: owner, IsSigner: true},
		},
		data,
	)
}

func closeAccountInstruction(tokenProgram, account, destination, owner solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: account, IsWritable: true},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		[]byte{tokenIxCloseAccount},
	)
}

// initSwapInstruction initializes a freshly created swap state with
// the caller-supplied fee parameters.
func initSwapInstruction(
	swapProgram, tokenProgram solana.PublicKey,
	swapState, authority, reserveA, reserveB, liquidityMint, feeAccount, destination solana.PublicKey,
	nonce uint8, fees pool.FeeParams,
) solana.Instruction {
	data := make([]byte, 51)
	data[0] = ixInitSwap
	data[1] = nonce
	data[2] = fees.CurveType
	putUint64(data, 3, fees.TradeFeeNumerator)
	putUint64(data, 11, fees.TradeFeeDenominator)
	putUint64(data, 19, fees.OwnerTradeFeeNumerator)
	putUint64(data, 27, fees.OwnerTradeFeeDenominator)
	putUint64(data, 35, fees.OwnerWithdrawFeeNumerator)
	putUint64(data, 43, fees.OwnerWithdrawFeeDenominator)

	return solana.NewInstruction(
		swapProgram,
		[]*solana.AccountMeta{
			{PublicKey: swapState, IsSigner: true, IsWritable: true},
			{PublicKey: authority},
			{PublicKey: reserveA},
			{PublicKey: reserveB},
			{PublicKey: liquidityMint, IsWritable: true},
			{PublicKey: feeAccount},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: tokenProgram},
		},
		data,
	)
}

// swapInstruction trades amountIn from the user's source account. The
// reserve accounts appear in pool-canonical order relative to the
// trade direction: poolSource matches the input mint.
func swapInstruction(
	swapProgram, tokenProgram solana.PublicKey,
	swapState, authority, userSource, poolSource, poolDestination, userDestination solana.PublicKey,
	liquidityMint, feeAccount solana.PublicKey,
	hostFeeAccount *solana.PublicKey,
	amountIn, minAmountOut uint64,
) solana.Instruction {
	data := make([]byte, 17)
	data[0] = ixSwap
	putUint64(data, 1, amountIn)
	putUint64(data, 9, minAmountOut)

	metas := []*solana.AccountMeta{
		{PublicKey: swapState},
		{PublicKey: authority},
		{PublicKey: userSource, IsWritable: true},
		{PublicKey: poolSource, IsWritable: true},
		{PublicKey: poolDestination, IsWritable: true},
		{PublicKey: userDestination, IsWritable: true},
		{PublicKey: liquidityMint, IsWritable: true},
		{PublicKey: feeAccount, IsWritable: true},
		{PublicKey: tokenProgram},
	}
	if hostFeeAccount != nil {
		metas = append(metas, &solana.AccountMeta{PublicKey: *hostFeeAccount, IsWritable: true})
	}

	return solana.NewInstruction(swapProgram, metas, data)
}

// depositInstruction mints liquidityAmount pool tokens against both
// legs, bounded by the max amounts.
func depositInstruction(
	swapProgram, tokenProgram solana.PublicKey,
	swapState, authority, sourceA, sourceB, reserveA, reserveB solana.PublicKey,
	liquidityMint, destination solana.PublicKey,
	liquidityAmount, maxAmountA, maxAmountB uint64,
) solana.Instruction {
	data := make([]byte, 25)
	data[0] = ixDeposit
	putUint64(data, 1, liquidityAmount)
	putUint64(data, 9, maxAmountA)
	putUint64(data, 17, maxAmountB)

	return solana.NewInstruction(
		swapProgram,
		[]*solana.AccountMeta{
			{PublicKey: swapState},
			{PublicKey: authority},
			{PublicKey: sourceA, IsWritable: true},
			{PublicKey: sourceB, IsWritable: true},
			{PublicKey: reserveA, IsWritable: true},
			{PublicKey: reserveB, IsWritable: true},
			{PublicKey: liquidityMint, IsWritable: true},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: tokenProgram},
		},
		data,
	)
}

// withdrawInstruction burns liquidityAmount pool tokens and pays out
// both legs.
func withdrawInstruction(
	swapProgram, tokenProgram solana.PublicKey,
	swapState, authority, liquidityMint, feeAccount, sourcePool solana.PublicKey,
	reserveA, reserveB, destinationA, destinationB solana.PublicKey,
	liquidityAmount, minAmountA, minAmountB uint64,
) solana.Instruction {
	data := make([]byte, 25)
	data[0] = ixWithdraw
	putUint64(data, 1, liquidityAmount)
	putUint64(data, 9, minAmountA)
	putUint64(data, 17, minAmountB)

	return solana.NewInstruction(
		swapProgram,
		[]*solana.AccountMeta{
			{PublicKey: swapState},
			{PublicKey: authority},
			{PublicKey: liquidityMint, IsWritable: true},
			{PublicKey: sourcePool, IsWritable: true},
			{PublicKey: reserveA, IsWritable: true},
			{PublicKey: reserveB, IsWritable: true},
			{PublicKey: destinationA, IsWritable: true},
			{PublicKey: destinationB, IsWritable: true},
			{PublicKey: feeAccount, IsWritable: true},
			{PublicKey: tokenProgram},
		},
		data,
	)
}
