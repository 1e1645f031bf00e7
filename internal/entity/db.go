package entity

// 重新导出 common 包中的通用类型。

import (
	"vidgenie/internal/entity/common"
)

type StringArray = common.StringArray
type JSONMap = common.JSONMap
type Meta = common.Meta
type BaseParams = common.BaseParams
type Modality = common.Modality

const (
	ModText  = common.ModText
	ModImage = common.ModImage
	ModVideo = common.ModVideo
)
