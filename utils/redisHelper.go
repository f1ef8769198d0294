package utils

import (
	"reflect"
	"time"

	"github.com/mmdatafocus/storefront_backend/config"
)

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func tenantKey[T any](tenantId string) string {
	return GetTypeName[T]() + ":" + tenantId
}

// StoreRedisTenant caches one value per tenant under Type:$tenant_id.
func StoreRedisTenant[T any](obj *T, tenantId string, exp time.Duration) error {
	return config.SetRedisObject(tenantKey[T](tenantId), obj, exp)
}

// RetrieveRedisTenant returns nil when the key is absent or redis is not configured.
func RetrieveRedisTenant[T any](tenantId string) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(tenantKey[T](tenantId), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

func RemoveRedisTenant[T any](tenantId string) error {
	return config.RemoveRedisKey(tenantKey[T](tenantId))
}
