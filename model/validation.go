/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// ledgerAccountPattern matches native ledger account ids such as 0.0.12345.
var ledgerAccountPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// NormalizeEvmAddress returns the checksummed 0x form of a valid address and
// the input unchanged otherwise.
func NormalizeEvmAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

var evmAddressRule = validation.By(func(value interface{}) error {
	address, ok := value.(string)
	if !ok {
		return errors.New("must be a string")
	}
	if address == "" {
		return nil
	}
	if !strings.HasPrefix(strings.ToLower(address), "0x") || !common.IsHexAddress(address) {
		return errors.New("must be a 20-byte hex address")
	}
	return nil
})

var ledgerAccountRule = validation.Match(ledgerAccountPattern).Error("must be a ledger account id (shard.realm.num)")

// Validate checks both address forms of a holder entry.
func (h *Holder) Validate() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.BatchPayoutID, validation.Required),
		validation.Field(&h.HolderAccountID, validation.Required, ledgerAccountRule),
		validation.Field(&h.HolderEvmAddress, validation.Required, evmAddressRule),
		validation.Field(&h.RetryCounter, validation.Min(0)),
		validation.Field(&h.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.NullDecimal)
			if amount.Valid != (h.Status == HolderStatusSuccess) {
				return errors.New("amount must be set if and only if status is SUCCESS")
			}
			return nil
		})),
	)
}

// Validate checks that the asset carries usable ledger and contract addresses.
func (a *Asset) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.LedgerTokenID, validation.Required, ledgerAccountRule),
		validation.Field(&a.TokenAddress, validation.Required, evmAddressRule),
		validation.Field(&a.LifeCycleCashFlowAddress, validation.Required, evmAddressRule),
	)
}

// Validate checks the discriminant against the populated details.
func (d *Distribution) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.AssetID, validation.Required),
		validation.Field(&d.Type, validation.Required, validation.In(DistributionTypeCorporateAction, DistributionTypePayout)),
		validation.Field(&d.CorporateAction,
			validation.When(d.Type == DistributionTypeCorporateAction, validation.Required).Else(validation.Nil)),
		validation.Field(&d.Payout,
			validation.When(d.Type == DistributionTypePayout, validation.Required).Else(validation.Nil)),
	)
}

func (c CorporateActionDetails) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CorporateActionID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.ExecutionDate, validation.Required),
	)
}

func (p PayoutDetails) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Subtype, validation.Required, validation.In(PayoutSubtypeImmediate, PayoutSubtypeOneOff, PayoutSubtypeRecurring)),
		validation.Field(&p.PayoutID, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.ExecuteAt, validation.Required),
		validation.Field(&p.AmountType, validation.Required, validation.In(AmountTypeFixed, AmountTypePercentage)),
		validation.Field(&p.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if !amount.IsPositive() {
				return errors.New("must be greater than zero")
			}
			if p.AmountType == AmountTypePercentage && amount.GreaterThan(decimal.NewFromInt(100)) {
				return errors.New("percentage cannot exceed 100")
			}
			return nil
		})),
		validation.Field(&p.Recurrency, validation.When(p.Subtype == PayoutSubtypeRecurring, validation.Required).Else(validation.Nil)),
	)
}
