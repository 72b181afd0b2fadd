package services

import (
	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/cryptox"
	"github.com/mkorchagin/praylock/internal/server/models"
)

// recoveryDisplayContext separates the key sealing the recovery code's
// display copy from the content key. Both live under the DEK, so either
// unwrap path can re-view the code.
const recoveryDisplayContext = "praylock/recovery-display/v1"

// wrapDEK seals the DEK under a key stretched from the given secret with a
// fresh salt. Returns the wrap ciphertext, its nonce, and the salt.
func wrapDEK(dek, secret []byte, kdfVersion int) (wrapped, nonce, salt []byte, err error) {
	salt = cryptox.NewSalt()
	wrapKey, err := cryptox.DeriveKey(secret, salt, kdfVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	defer common.WipeByteArray(wrapKey)

	sealed, err := cryptox.Seal(dek, wrapKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return sealed.Ciphertext, sealed.Nonce, salt, nil
}

// unwrapDEKWithPassword recovers the DEK through the password path.
func unwrapDEKWithPassword(km *models.EnvelopeKeyMaterial, password []byte) ([]byte, error) {
	wrapKey, err := cryptox.DeriveKey(password, km.PasswordKDFSalt, km.KDFVersion)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(wrapKey)
	return cryptox.Open(&cryptox.Blob{Ciphertext: km.WrappedDEKPassword, Nonce: km.PasswordNonce}, wrapKey)
}

// unwrapDEKWithRecoveryCode recovers the DEK through the recovery-code
// path. The code is normalized before derivation so formatting differences
// in user input do not matter.
func unwrapDEKWithRecoveryCode(km *models.EnvelopeKeyMaterial, code string) ([]byte, error) {
	normalized := cryptox.NormalizeRecoveryCode(code)
	wrapKey, err := cryptox.DeriveKey([]byte(normalized), km.RecoveryKDFSalt, km.KDFVersion)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(wrapKey)
	return cryptox.Open(&cryptox.Blob{Ciphertext: km.WrappedDEKRecovery, Nonce: km.RecoveryNonce}, wrapKey)
}

// sealRecoveryCodeForDisplay encrypts the recovery code under a sub-key of
// the DEK so it can be shown again later, never regenerated.
func sealRecoveryCodeForDisplay(dek []byte, code string) (ciphertext, nonce []byte, err error) {
	displayKey, err := cryptox.DeriveSubKey(dek, recoveryDisplayContext)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(displayKey)

	sealed, err := cryptox.Seal([]byte(code), displayKey)
	if err != nil {
		return nil, nil, err
	}
	return sealed.Ciphertext, sealed.Nonce, nil
}

// openRecoveryCodeForDisplay decrypts the stored display copy.
func openRecoveryCodeForDisplay(km *models.EnvelopeKeyMaterial, dek []byte) (string, error) {
	displayKey, err := cryptox.DeriveSubKey(dek, recoveryDisplayContext)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(displayKey)

	code, err := cryptox.Open(&cryptox.Blob{Ciphertext: km.EncryptedRecoveryCode, Nonce: km.RecoveryCodeNonce}, displayKey)
	if err != nil {
		return "", err
	}
	return string(code), nil
}
