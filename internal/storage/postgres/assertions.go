package postgres

import (
    "github.com/tinoosan/circulation/internal/service/account"
    "github.com/tinoosan/circulation/internal/service/catalog"
    "github.com/tinoosan/circulation/internal/service/circulation"
    "github.com/tinoosan/circulation/internal/storage"
)

var (
    _ storage.TxBeginner = (*Store)(nil)
    _ storage.Tx         = (*Tx)(nil)

    _ circulation.Repo = (*Store)(nil)
    _ catalog.Repo     = (*Store)(nil)
    _ account.Repo     = (*Store)(nil)
)
