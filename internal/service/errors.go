package service

import "errors"

var (
	ErrPortfolioNotLoaded   = errors.New("portfolio is not loaded")
	ErrCloudStorageDisabled = errors.New("cloud storage is not configured")
)
