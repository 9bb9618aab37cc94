package compose

import "errors"

// ErrMissingAsset 必需的素材（图片、音频、视频片段）不存在
var ErrMissingAsset = errors.New("required media asset missing")
