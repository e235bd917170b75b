package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxMerchantID
)

func WithIdentity(ctx context.Context, userID, merchantID string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxMerchantID, merchantID)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func MerchantID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxMerchantID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("merchant_id not in context")
}
