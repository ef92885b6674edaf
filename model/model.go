package model

import (
	"github.com/bwmarrin/snowflake"
	"github.com/khanghh/rms/params"
	"gorm.io/gorm"
)

var snowflakeNode *snowflake.Node

var Models = []interface{}{
	&User{}, &OperationLog{},
}

func init() {
	var err error
	snowflakeNode, err = snowflake.NewNode(params.SnowflakeNodeID)
	if err != nil {
		panic(err)
	}
}

func GenerateID() uint {
	return uint(snowflakeNode.Generate())
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}
