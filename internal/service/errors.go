package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound        = errors.New("用户不存在")
	ErrJobNotFound         = errors.New("任务不存在")
	ErrInsufficientCredits = errors.New("积分不足")
	ErrInvalidAmount       = errors.New("积分数量必须大于 0")
	ErrStorageUnavailable  = errors.New("存储服务不可用")
	ErrInvalidCredentials  = errors.New("邮箱或密码错误")
	ErrInvalidTier         = errors.New("无效的套餐")
	ErrEmailRequired       = errors.New("Email is required")
	ErrIdentityRequired    = errors.New("缺少第三方身份信息")
	ErrNoBestFit           = errors.New("没有 best_fit 图片数据")
	ErrLoginRequired       = errors.New("需要登录")
)

// storageError 将持久化层错误包装为 ErrStorageUnavailable，保留原始错误链
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
